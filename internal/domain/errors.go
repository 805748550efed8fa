package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency. Typed errors in the
// admission package unwrap to these so callers can match with errors.Is.

var (
	// Admission errors: the connection attempt is refused, nothing else.
	ErrSubnetLimitExceeded = errors.New("subnet limit exceeded")
	ErrTotalLimitExceeded  = errors.New("connection limit exceeded")
	ErrGlobalRateLimited   = errors.New("global connection rate limit exceeded")
	ErrPeerBackoff         = errors.New("peer is backing off after failed attempts")
	ErrPrefixDenied        = errors.New("address prefix is denied by policy")
	ErrNoRemoteIP          = errors.New("remote address carries no IP")

	// Startup errors: the node should refuse to start.
	ErrBootstrapCountTooLow     = errors.New("too few bootstrap peers")
	ErrBootstrapDiversityTooLow = errors.New("bootstrap peers are not diverse enough")
	ErrInvalidConfiguration     = errors.New("invalid configuration")

	// Journal errors
	ErrJournalClosed = errors.New("admission journal is closed")
)
