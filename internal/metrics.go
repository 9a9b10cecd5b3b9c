package internal

import "expvar"

var (
	messagesTotal   = expvar.NewMap("gerrithooks_messages_total")
	hookErrors      = expvar.NewMap("gerrithooks_hook_errors_total")
	trackerUpdates  = expvar.NewMap("gerrithooks_tracker_updates_total")
	autoholdDemands = expvar.NewMap("gerrithooks_autohold_requests_total")
)

func IncMessage(topic string) {
	messagesTotal.Add(topic, 1)
}

func IncHookError(hook string) {
	hookErrors.Add(hook, 1)
}

func IncTrackerUpdate(kind string) {
	trackerUpdates.Add(kind, 1)
}

func IncAutohold(tenant string) {
	autoholdDemands.Add(tenant, 1)
}
