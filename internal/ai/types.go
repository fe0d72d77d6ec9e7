package ai

import "coinsentry/internal/analyzer"

type Verdict string

const (
	VerdictApproved Verdict = "APPROVED"
	VerdictRejected Verdict = "REJECTED"
)

// FilterRequest is everything the filter sees about a candidate entry.
type FilterRequest struct {
	Market   string
	Snapshot *analyzer.Snapshot
	News     []string // recent headlines mentioning the asset
}

// Decision is the filter's answer for one candidate entry.
type Decision struct {
	Verdict    Verdict `json:"decision"`
	Confidence float64 `json:"confidence"` // 0..1
	Reason     string  `json:"reason"`
}
