// Package tracker updates items on a Taiga board as Gerrit reviews evolve.
package tracker

// ItemKind enumerates the kinds of tracker items a reference can resolve
// to. Status rules branch on the kind.
type ItemKind int

const (
	KindUnknown ItemKind = iota
	KindUserStory
	KindIssue
	KindTask
)

func (k ItemKind) String() string {
	switch k {
	case KindUserStory:
		return "user-story"
	case KindIssue:
		return "issue"
	case KindTask:
		return "task"
	default:
		return "unknown"
	}
}

// Item is a tracker item resolved by reference. The remote tracker owns the
// entity; this struct only carries what the hook needs to comment on it and
// move its status.
type Item struct {
	Kind    ItemKind
	ID      int
	Ref     int
	Subject string
	// Version is Taiga's optimistic-concurrency counter, required on every
	// mutation.
	Version int
	StatusID int
}

// Status is one entry of a project's per-kind status list.
type Status struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// HistoryEntry is one entry of an item's activity history.
type HistoryEntry struct {
	Comment string `json:"comment"`
}
