package hook

import (
	"github.com/rs/zerolog"

	"gerrithooks/internal"
	"gerrithooks/pkg/gerrit"
)

// GerritBase is the shared behavior of hooks triggered by Gerrit events:
// a topic filter plus an optional guard expression over the payload.
// Concrete hooks embed it and add their own filtering and processing.
type GerritBase struct {
	Logger zerolog.Logger
	guard  *internal.Guard
}

// NewGerritBase builds the base. The guard expression is optional; an empty
// string means no payload condition.
func NewGerritBase(logger zerolog.Logger, guardExpr string) (GerritBase, error) {
	base := GerritBase{Logger: logger}
	if guardExpr != "" {
		guard, err := internal.NewGuard(guardExpr)
		if err != nil {
			return GerritBase{}, err
		}
		base.guard = guard
	}
	return base, nil
}

// Filter reports whether the message topic is a Gerrit topic and, when a
// guard is configured, whether the payload satisfies it.
func (g *GerritBase) Filter(msg Message) bool {
	g.Logger.Debug().Str("topic", msg.Topic).Msg("filtering message")
	topic, ok := gerrit.MatchTopic(msg.Topic)
	if !ok {
		return false
	}
	if g.guard == nil {
		return true
	}

	_, fields, err := gerrit.DecodePayload(msg.Payload)
	if err != nil {
		g.Logger.Error().Err(err).Str("topic", msg.Topic).Msg("could not decode payload")
		return false
	}
	matched, err := g.guard.Match(fields)
	if err != nil {
		g.Logger.Debug().Err(err).Str("guard", g.guard.String()).Msg("guard evaluation failed")
		return false
	}
	if !matched {
		g.Logger.Debug().Str("guard", g.guard.String()).Str("event", topic.Event).Msg("guard did not match")
	}
	return matched
}

// Data parses the message into its topic, typed payload, and generic field
// map.
func (g *GerritBase) Data(msg Message) (gerrit.Topic, gerrit.Payload, map[string]interface{}, error) {
	topic, _ := gerrit.MatchTopic(msg.Topic)
	payload, fields, err := gerrit.DecodePayload(msg.Payload)
	if err != nil {
		return topic, gerrit.Payload{}, nil, err
	}
	return topic, payload, fields, nil
}
