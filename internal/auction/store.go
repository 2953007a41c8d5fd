package auction

import (
	"context"
	"time"

	"github.com/legends-of-valor/internal/domain"
)

// Store persists auctions and bids
type Store interface {
	CreateAuction(ctx context.Context, a *domain.SkillAuction) error
	GetAuction(ctx context.Context, auctionID string) (*domain.SkillAuction, error)
	// GetActiveAuction returns domain.ErrAuctionNotFound when nothing is active
	GetActiveAuction(ctx context.Context) (*domain.SkillAuction, error)
	// ListAuctions returns auctions in the given status, oldest first
	ListAuctions(ctx context.Context, status domain.AuctionStatus) ([]domain.SkillAuction, error)
	// ListExpired returns active auctions whose end time is not after now
	ListExpired(ctx context.Context, now time.Time) ([]domain.SkillAuction, error)
	// ListBids returns accepted bids in acceptance order
	ListBids(ctx context.Context, auctionID string) ([]domain.SkillBid, error)
	// WithAuction runs fn in a transaction that holds an exclusive lock on
	// the auction. Ledger changes made through the Tx commit or roll back
	// together with the auction changes.
	WithAuction(ctx context.Context, auctionID string, fn func(tx Tx) error) error
}

// Tx is the unit of work handed to WithAuction callbacks
type Tx interface {
	// Auction returns the locked auction; mutate it and call SaveAuction
	Auction() *domain.SkillAuction
	SaveAuction(ctx context.Context) error
	HighestBid(ctx context.Context) (*domain.SkillBid, error)
	InsertBid(ctx context.Context, bid *domain.SkillBid) error
	// OtherActive reports whether an auction other than the locked one is active
	OtherActive(ctx context.Context) (bool, error)
	// AdjustGold is the ledger's atomic decrement-if-sufficient inside this transaction
	AdjustGold(ctx context.Context, accountID string, delta int64) (int64, error)
	GrantSkill(ctx context.Context, grant *domain.PlayerSkill) error
}
