package domain

import "time"

// AuctionStatus is the lifecycle phase of a skill auction
type AuctionStatus string

const (
	AuctionQueued    AuctionStatus = "queued"
	AuctionActive    AuctionStatus = "active"
	AuctionCompleted AuctionStatus = "completed"
)

// SkillAuction is one timed sale of a single catalog skill
type SkillAuction struct {
	ID           string        `json:"id"`
	SkillID      string        `json:"skill_id"`
	Status       AuctionStatus `json:"status"`
	StartAt      *time.Time    `json:"start_at,omitempty"`
	EndAt        *time.Time    `json:"end_at,omitempty"`
	WinningBidID *string       `json:"winning_bid_id,omitempty"`
	WinnerID     *string       `json:"winner_id,omitempty"`
	Version      int64         `json:"version"`
	CreatedAt    time.Time     `json:"created_at"`
}

// OpenAt reports whether bids may be admitted at the given server time
func (a *SkillAuction) OpenAt(now time.Time) bool {
	return a.Status == AuctionActive && a.EndAt != nil && now.Before(*a.EndAt)
}

// Clone returns a deep copy of the auction
func (a *SkillAuction) Clone() *SkillAuction {
	if a == nil {
		return nil
	}
	out := *a
	if a.StartAt != nil {
		t := *a.StartAt
		out.StartAt = &t
	}
	if a.EndAt != nil {
		t := *a.EndAt
		out.EndAt = &t
	}
	if a.WinningBidID != nil {
		v := *a.WinningBidID
		out.WinningBidID = &v
	}
	if a.WinnerID != nil {
		v := *a.WinnerID
		out.WinnerID = &v
	}
	return &out
}

// SkillBid is one accepted bid against an auction
type SkillBid struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auction_id"`
	BidderID  string    `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// BidderStanding is one row of the per-bidder board
type BidderStanding struct {
	Rank     int64  `json:"rank"`
	BidderID string `json:"bidder_id"`
	Amount   int64  `json:"amount"`
}

// AuctionSnapshot is the read model returned by every auction operation
type AuctionSnapshot struct {
	Auction    *SkillAuction    `json:"auction"`
	Skill      *Skill           `json:"skill,omitempty"`
	Bids       []SkillBid       `json:"bids"`
	HighestBid *SkillBid        `json:"highest_bid,omitempty"`
	MinimumBid int64            `json:"minimum_bid"`
	Board      []BidderStanding `json:"board,omitempty"`
}
