package domain

import "time"

// DisputeStatus is the review state of a dispute.
type DisputeStatus string

const (
	DisputePending     DisputeStatus = "pending"
	DisputeUnderReview DisputeStatus = "under_review"
	DisputeResolved    DisputeStatus = "resolved"
	DisputeDismissed   DisputeStatus = "dismissed"
)

// Open reports whether the status still blocks a new dispute for the same participant.
func (s DisputeStatus) Open() bool {
	return s == DisputePending || s == DisputeUnderReview
}

// CanTransition reports whether a dispute may move from s to next.
func (s DisputeStatus) CanTransition(next DisputeStatus) bool {
	switch s {
	case DisputePending:
		return next == DisputeUnderReview || next == DisputeResolved || next == DisputeDismissed
	case DisputeUnderReview:
		return next == DisputeResolved || next == DisputeDismissed
	}
	return false
}

// Dispute Model
//
// OpenSlot is true while the dispute is open and NULL afterwards, so the unique
// index over (challenge_id, challenger_id, open_slot) admits one open dispute per
// participant and any number of closed ones.
type Dispute struct {
	ID           string        `gorm:"primaryKey;size:26" json:"id"`
	ChallengeID  string        `gorm:"size:64;not null;uniqueIndex:idx_dispute_open,priority:1" json:"challenge_id"`
	ChallengerID string        `gorm:"size:64;not null;uniqueIndex:idx_dispute_open,priority:2" json:"challenger_id"`
	OpponentID   string        `gorm:"size:64;not null" json:"opponent_id"`
	Reason       string        `gorm:"size:1024" json:"reason"`
	Status       DisputeStatus `gorm:"size:16;not null;index" json:"status"`
	Evidence     []string      `gorm:"type:text;serializer:json" json:"evidence"`
	Resolution   string        `gorm:"size:1024" json:"resolution,omitempty"`
	OpenSlot     *bool         `gorm:"uniqueIndex:idx_dispute_open,priority:3" json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// SyncOpenSlot keeps OpenSlot consistent with Status.
func (d *Dispute) SyncOpenSlot() {
	if d.Status.Open() {
		open := true
		d.OpenSlot = &open
		return
	}
	d.OpenSlot = nil
}
