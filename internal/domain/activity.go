package domain

import "time"

// Activity event types
const (
	EventChallengeCreated   = "challenge_created"
	EventChallengeAccepted  = "challenge_accepted"
	EventChallengeDeclined  = "challenge_declined"
	EventChallengeCancelled = "challenge_cancelled"
	EventActionSubmitted    = "action_submitted"
	EventRoundResolved      = "round_resolved"
	EventCombatFinished     = "combat_finished"
	EventAuctionQueued      = "auction_queued"
	EventAuctionActivated   = "auction_activated"
	EventBidPlaced          = "bid_placed"
	EventBidOutbid          = "bid_outbid"
	EventAuctionSettled     = "auction_settled"
)

// ActivityEvent is a fire-and-forget entry for the activity feed
type ActivityEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Topic     string                 `json:"topic"`
	AccountID string                 `json:"account_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ChallengeTopic is the feed topic for one challenge
func ChallengeTopic(challengeID string) string {
	return "challenge:" + challengeID
}

// AuctionTopic is the feed topic for one auction
func AuctionTopic(auctionID string) string {
	return "auction:" + auctionID
}
