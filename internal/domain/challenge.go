package domain

import "time"

// ChallengeStatus is the lifecycle phase of a PvP challenge
type ChallengeStatus string

const (
	ChallengePending   ChallengeStatus = "pending"
	ChallengeAccepted  ChallengeStatus = "accepted"
	ChallengeDeclined  ChallengeStatus = "declined"
	ChallengeCompleted ChallengeStatus = "completed"
	ChallengeCancelled ChallengeStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible
func (s ChallengeStatus) Terminal() bool {
	return s == ChallengeDeclined || s == ChallengeCompleted || s == ChallengeCancelled
}

// Challenge is a PvP match request and, once accepted, its battle record
type Challenge struct {
	ID           string          `json:"id"`
	ChallengerID string          `json:"challenger_id"`
	ChallengedID string          `json:"challenged_id"`
	Status       ChallengeStatus `json:"status"`
	WinnerID     *string         `json:"winner_id,omitempty"`
	CombatState  *CombatState    `json:"combat_state,omitempty"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	AcceptedAt   *time.Time      `json:"accepted_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// IsParticipant reports whether accountID is one of the two sides
func (c *Challenge) IsParticipant(accountID string) bool {
	return accountID == c.ChallengerID || accountID == c.ChallengedID
}

// Opponent returns the participant facing accountID
func (c *Challenge) Opponent(accountID string) string {
	if accountID == c.ChallengerID {
		return c.ChallengedID
	}
	return c.ChallengerID
}

// Decided reports whether an update from status prev settled the battle,
// which is when the win and loss records are written.
func (c *Challenge) Decided(prev ChallengeStatus) bool {
	return prev != ChallengeCompleted && c.Status == ChallengeCompleted && c.WinnerID != nil
}

// Clone returns a deep copy of the challenge
func (c *Challenge) Clone() *Challenge {
	if c == nil {
		return nil
	}
	out := *c
	if c.WinnerID != nil {
		w := *c.WinnerID
		out.WinnerID = &w
	}
	if c.AcceptedAt != nil {
		t := *c.AcceptedAt
		out.AcceptedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		out.CompletedAt = &t
	}
	out.CombatState = c.CombatState.Clone()
	return &out
}
