package domain

import "time"

// Stage names the admission pipeline step that produced a decision.
type Stage string

const (
	StagePrefixPolicy Stage = "prefix_policy"
	StageGlobalRate   Stage = "global_rate"
	StagePeerBackoff  Stage = "peer_backoff"
	StageSubnet24     Stage = "subnet_24"
	StageSubnet16     Stage = "subnet_16"
	StageTotal        Stage = "total"
	StageAdmitted     Stage = "admitted"
	StageReleased     Stage = "released"
)

// AdmissionEvent is one decision taken by the admission controller.
type AdmissionEvent struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	IP      string    `json:"ip"`
	Stage   Stage     `json:"stage"`
	Allowed bool      `json:"allowed"`
	Reason  string    `json:"reason,omitempty"`
}
