package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the admission layer depends on them.

// AdmissionRecorder receives every admission decision. Implementations must
// not block: they are called on the connection accept path.
type AdmissionRecorder interface {
	RecordAdmission(ev AdmissionEvent)
}

// AdmissionJournal is the queryable audit trail of admission decisions.
// Implemented by infra/sqlite.Journal.
type AdmissionJournal interface {
	AdmissionRecorder

	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]AdmissionEvent, error)

	// Prune deletes events older than the retention cutoff.
	Prune(ctx context.Context) (int64, error)
}
