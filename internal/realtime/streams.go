package realtime

import "strings"

// Named realtime streams.
const (
	// StreamLedger carries the caller's own installed-software changes.
	StreamLedger = "ledger"
	// StreamAdminLedger carries every user's installed-software changes.
	StreamAdminLedger = "admin.ledger"
	// StreamAdminTasks carries background task outcomes.
	StreamAdminTasks = "admin.tasks"
)

// Ledger and task events.
const (
	EventLedgerUpserted  = "ledger.upserted"
	EventLedgerRescanned = "ledger.rescanned"
	EventTaskFinished    = "task.finished"
)

// Connection control events.
const (
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventPong         = "pong"
	EventError        = "error"
)

// IsAdminStream reports whether stream requires the admin role.
func IsAdminStream(stream string) bool {
	return strings.HasPrefix(normalizeStream(stream), "admin.")
}

// AllowedStreams returns the streams a caller with the given role may subscribe to.
func AllowedStreams(isAdmin bool) map[string]struct{} {
	allowed := map[string]struct{}{StreamLedger: {}}
	if isAdmin {
		allowed[StreamAdminLedger] = struct{}{}
		allowed[StreamAdminTasks] = struct{}{}
	}
	return allowed
}

// ParseStreams splits a comma separated stream list.
func ParseStreams(raw string) []string {
	return uniqueStreams(strings.Split(raw, ","))
}
