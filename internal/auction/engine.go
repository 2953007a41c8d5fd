// Package auction runs timed skill auctions: one active auction at a time,
// strictly increasing bids, and single-winner settlement.
//
// Gold is escrowed per bid. The current highest bidder's amount is debited
// when the bid is accepted and credited back when someone outbids them, so
// at any moment only the leading bid holds funds and settlement never has
// to collect gold.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/legends-of-valor/internal/config"
	"github.com/legends-of-valor/internal/domain"
)

// Catalog resolves skill definitions
type Catalog interface {
	GetSkill(id string) (*domain.Skill, error)
}

// Accounts checks that a bidder exists
type Accounts interface {
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
}

// Notifier receives activity events; it must not block or fail the caller
type Notifier interface {
	Record(ctx context.Context, event domain.ActivityEvent)
}

// Board keeps the per-bidder standings shown next to an auction
type Board interface {
	RecordBid(ctx context.Context, auctionID, bidderID string, amount int64) error
	Standings(ctx context.Context, auctionID string, n int) ([]domain.BidderStanding, error)
}

// Metrics counts bid admissions and settlements
type Metrics interface {
	BidAccepted()
	BidRejected(reason string)
	AuctionSettled(withWinner bool)
}

const boardSize = 10

// Engine arbitrates the auction lifecycle and concurrent bids
type Engine struct {
	store    Store
	accounts Accounts
	catalog  Catalog
	notifier Notifier
	board    Board
	metrics  Metrics
	config   *config.AuctionConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates a new auction engine
func NewEngine(store Store, accounts Accounts, catalog Catalog, cfg *config.AuctionConfig, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		accounts: accounts,
		catalog:  catalog,
		notifier: nopNotifier{},
		metrics:  nopMetrics{},
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetNotifier sets the activity feed sink
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// SetBoard sets the bidder standings board
func (e *Engine) SetBoard(b Board) { e.board = b }

// SetMetrics sets the metrics recorder
func (e *Engine) SetMetrics(m Metrics) { e.metrics = m }

// SetClock overrides the server time source
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Queue creates a queued auction for a catalog skill
func (e *Engine) Queue(ctx context.Context, skillID string) (*domain.SkillAuction, error) {
	if _, err := e.catalog.GetSkill(skillID); err != nil {
		return nil, err
	}
	a := &domain.SkillAuction{
		ID:        uuid.NewString(),
		SkillID:   skillID,
		Status:    domain.AuctionQueued,
		Version:   1,
		CreatedAt: e.now(),
	}
	if err := e.store.CreateAuction(ctx, a); err != nil {
		return nil, fmt.Errorf("creating auction: %w", err)
	}
	e.record(ctx, domain.EventAuctionQueued, a, "", map[string]interface{}{"skill_id": skillID})
	return a, nil
}

// Activate opens a queued auction for bidding. It fails with
// domain.ErrInvalidState if the auction is not queued or another auction
// is already active.
func (e *Engine) Activate(ctx context.Context, auctionID string) (*domain.SkillAuction, error) {
	var activated *domain.SkillAuction
	err := e.store.WithAuction(ctx, auctionID, func(tx Tx) error {
		a := tx.Auction()
		if a.Status != domain.AuctionQueued {
			return domain.ErrInvalidState
		}
		busy, err := tx.OtherActive(ctx)
		if err != nil {
			return err
		}
		if busy {
			return domain.ErrInvalidState
		}
		start := e.now()
		end := start.Add(e.config.Duration)
		a.Status = domain.AuctionActive
		a.StartAt = &start
		a.EndAt = &end
		a.Version++
		activated = a.Clone()
		return tx.SaveAuction(ctx)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("auction activated", "auction_id", auctionID, "skill_id", activated.SkillID, "end_at", activated.EndAt)
	e.record(ctx, domain.EventAuctionActivated, activated, "", map[string]interface{}{
		"skill_id": activated.SkillID,
		"end_at":   activated.EndAt,
	})
	return activated, nil
}

// ActivateNext activates the oldest queued auction when none is active.
// It returns nil, nil when there is nothing to do.
func (e *Engine) ActivateNext(ctx context.Context) (*domain.SkillAuction, error) {
	if _, err := e.store.GetActiveAuction(ctx); err == nil {
		return nil, nil
	} else if !errors.Is(err, domain.ErrAuctionNotFound) {
		return nil, err
	}

	queued, err := e.store.ListAuctions(ctx, domain.AuctionQueued)
	if err != nil {
		return nil, fmt.Errorf("listing queued auctions: %w", err)
	}
	if len(queued) == 0 {
		return nil, nil
	}

	a, err := e.Activate(ctx, queued[0].ID)
	if errors.Is(err, domain.ErrInvalidState) {
		// lost a race with another activator
		return nil, nil
	}
	return a, err
}

// PlaceBid admits a bid if the auction is open, the amount beats the
// current highest bid, and the bidder can cover it. The bidder's gold is
// escrowed and the bidder being outbid is refunded in the same transaction.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64) (*domain.SkillBid, error) {
	if bidderID == "" || amount <= 0 {
		return nil, domain.ErrInvalidRequest
	}
	if _, err := e.accounts.GetAccount(ctx, bidderID); err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrNotParticipant
		}
		return nil, err
	}

	var bid *domain.SkillBid
	var outbid *domain.SkillBid
	err := e.store.WithAuction(ctx, auctionID, func(tx Tx) error {
		bid, outbid = nil, nil
		a := tx.Auction()
		// server time is read while holding the auction lock
		if !a.OpenAt(e.now()) {
			return domain.ErrAuctionNotActive
		}

		highest, err := tx.HighestBid(ctx)
		if err != nil {
			return err
		}
		if amount < e.minimumBid(highest) {
			return domain.ErrBidTooLow
		}

		var held int64
		if highest != nil && highest.BidderID == bidderID {
			held = highest.Amount
		}
		if _, err := tx.AdjustGold(ctx, bidderID, -(amount - held)); err != nil {
			return err
		}
		if highest != nil && highest.BidderID != bidderID {
			if _, err := tx.AdjustGold(ctx, highest.BidderID, highest.Amount); err != nil {
				return fmt.Errorf("releasing escrow of %s: %w", highest.BidderID, err)
			}
			outbid = highest
		}

		bid = &domain.SkillBid{
			ID:        uuid.NewString(),
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			CreatedAt: e.now(),
		}
		if err := tx.InsertBid(ctx, bid); err != nil {
			return err
		}
		a.Version++
		return tx.SaveAuction(ctx)
	})
	if err != nil {
		e.metrics.BidRejected(rejectReason(err))
		return nil, err
	}

	e.metrics.BidAccepted()
	if e.board != nil {
		if err := e.board.RecordBid(ctx, auctionID, bidderID, amount); err != nil {
			e.logger.Warn("failed to update bid board", "auction_id", auctionID, "error", err)
		}
	}
	e.recordBid(ctx, domain.EventBidPlaced, bid)
	if outbid != nil {
		e.recordBid(ctx, domain.EventBidOutbid, outbid)
	}
	return bid, nil
}

// Settle completes an auction whose end time has passed. The highest
// bidder's escrow becomes the payment and the skill is granted. Settling a
// completed auction is a no-op.
func (e *Engine) Settle(ctx context.Context, auctionID string) (*domain.SkillAuction, error) {
	var settled *domain.SkillAuction
	var winner *domain.SkillBid
	alreadyDone := false

	err := e.store.WithAuction(ctx, auctionID, func(tx Tx) error {
		settled, winner, alreadyDone = nil, nil, false
		a := tx.Auction()
		switch {
		case a.Status == domain.AuctionCompleted:
			alreadyDone = true
			settled = a.Clone()
			return nil
		case a.Status != domain.AuctionActive:
			return domain.ErrInvalidState
		case a.OpenAt(e.now()):
			return domain.ErrInvalidState
		}

		highest, err := tx.HighestBid(ctx)
		if err != nil {
			return err
		}
		a.Status = domain.AuctionCompleted
		a.Version++
		if highest != nil {
			bidID, bidderID := highest.ID, highest.BidderID
			a.WinningBidID = &bidID
			a.WinnerID = &bidderID
			if err := tx.GrantSkill(ctx, &domain.PlayerSkill{
				ID:         uuid.NewString(),
				AccountID:  highest.BidderID,
				SkillID:    a.SkillID,
				IsEquipped: false,
				AcquiredAt: e.now(),
				Source:     domain.SkillSourceAuction,
			}); err != nil {
				return fmt.Errorf("granting skill: %w", err)
			}
			winner = highest
		}
		settled = a.Clone()
		return tx.SaveAuction(ctx)
	})
	if err != nil {
		return nil, err
	}
	if alreadyDone {
		return settled, nil
	}

	e.metrics.AuctionSettled(winner != nil)
	data := map[string]interface{}{"skill_id": settled.SkillID}
	winnerID := ""
	if winner != nil {
		winnerID = winner.BidderID
		data["winner_id"] = winner.BidderID
		data["amount"] = winner.Amount
	}
	e.logger.Info("auction settled", "auction_id", auctionID, "winner_id", winnerID)
	e.record(ctx, domain.EventAuctionSettled, settled, winnerID, data)
	return settled, nil
}

// SettleExpired settles every active auction past its end time
func (e *Engine) SettleExpired(ctx context.Context) (int, error) {
	due, err := e.store.ListExpired(ctx, e.now())
	if err != nil {
		return 0, fmt.Errorf("listing expired auctions: %w", err)
	}
	n := 0
	var errs []error
	for _, a := range due {
		if _, err := e.Settle(ctx, a.ID); err != nil {
			e.logger.Error("failed to settle auction", "auction_id", a.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Snapshot returns an auction with its bid history
func (e *Engine) Snapshot(ctx context.Context, auctionID string) (*domain.AuctionSnapshot, error) {
	a, err := e.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return e.snapshot(ctx, a)
}

// ActiveSnapshot returns the snapshot of the currently active auction
func (e *Engine) ActiveSnapshot(ctx context.Context) (*domain.AuctionSnapshot, error) {
	a, err := e.store.GetActiveAuction(ctx)
	if err != nil {
		return nil, err
	}
	return e.snapshot(ctx, a)
}

// Queued lists auctions waiting for activation, oldest first
func (e *Engine) Queued(ctx context.Context) ([]domain.SkillAuction, error) {
	return e.store.ListAuctions(ctx, domain.AuctionQueued)
}

func (e *Engine) snapshot(ctx context.Context, a *domain.SkillAuction) (*domain.AuctionSnapshot, error) {
	bids, err := e.store.ListBids(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	snap := &domain.AuctionSnapshot{
		Auction: a,
		Bids:    bids,
	}
	if skill, err := e.catalog.GetSkill(a.SkillID); err == nil {
		snap.Skill = skill
	}
	if n := len(bids); n > 0 {
		h := bids[n-1]
		snap.HighestBid = &h
	}
	snap.MinimumBid = e.minimumBid(snap.HighestBid)

	if e.board != nil {
		standings, err := e.board.Standings(ctx, a.ID, boardSize)
		if err != nil {
			e.logger.Warn("failed to read bid board", "auction_id", a.ID, "error", err)
		} else {
			snap.Board = standings
		}
	}
	return snap, nil
}

func (e *Engine) minimumBid(highest *domain.SkillBid) int64 {
	if highest == nil {
		return e.config.MinimumBid
	}
	return highest.Amount + 1
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuctionNotActive):
		return "not_active"
	case errors.Is(err, domain.ErrBidTooLow):
		return "too_low"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrAuctionNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (e *Engine) recordBid(ctx context.Context, eventType string, bid *domain.SkillBid) {
	e.notifier.Record(ctx, domain.ActivityEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Topic:     domain.AuctionTopic(bid.AuctionID),
		AccountID: bid.BidderID,
		Data: map[string]interface{}{
			"auction_id": bid.AuctionID,
			"bid_id":     bid.ID,
			"amount":     bid.Amount,
		},
		Timestamp: e.now(),
	})
}

func (e *Engine) record(ctx context.Context, eventType string, a *domain.SkillAuction, accountID string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["auction_id"] = a.ID
	data["status"] = string(a.Status)
	e.notifier.Record(ctx, domain.ActivityEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Topic:     domain.AuctionTopic(a.ID),
		AccountID: accountID,
		Data:      data,
		Timestamp: e.now(),
	})
}

type nopNotifier struct{}

func (nopNotifier) Record(context.Context, domain.ActivityEvent) {}

type nopMetrics struct{}

func (nopMetrics) BidAccepted()        {}
func (nopMetrics) BidRejected(string)  {}
func (nopMetrics) AuctionSettled(bool) {}
