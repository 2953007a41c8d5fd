// Package worker runs the background auction lifecycle: expired auctions
// are settled and the next queued auction is opened.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/legends-of-valor/internal/config"
	"github.com/legends-of-valor/internal/domain"
)

// AuctionEngine is the part of the auction engine the scheduler drives
type AuctionEngine interface {
	SettleExpired(ctx context.Context) (int, error)
	ActivateNext(ctx context.Context) (*domain.SkillAuction, error)
	ActiveSnapshot(ctx context.Context) (*domain.AuctionSnapshot, error)
}

// BoardRebuilder restores the bidder board from the bid history
type BoardRebuilder interface {
	RebuildBoard(ctx context.Context, auctionID string, bids []domain.SkillBid) error
}

// AuctionWorker settles and activates auctions on a fixed interval
type AuctionWorker struct {
	engine    AuctionEngine
	board     BoardRebuilder
	config    *config.SchedulerConfig
	logger    *slog.Logger
	scheduler gocron.Scheduler
	mu        sync.Mutex
	running   bool
}

// NewAuctionWorker creates a new auction worker
func NewAuctionWorker(engine AuctionEngine, cfg *config.SchedulerConfig, logger *slog.Logger) *AuctionWorker {
	return &AuctionWorker{
		engine: engine,
		config: cfg,
		logger: logger,
	}
}

// SetBoard sets the board restored by SyncBoard
func (w *AuctionWorker) SetBoard(b BoardRebuilder) { w.board = b }

// Start schedules the auction cycle
func (w *AuctionWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(w.config.Interval),
		gocron.NewTask(func() {
			w.RunOnce(ctx)
		}),
		gocron.WithName("auction-cycle"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("scheduling auction cycle: %w", err)
	}
	s.Start()

	w.scheduler = s
	w.running = true
	w.logger.Info("auction worker started", "interval", w.config.Interval)
	return nil
}

// Stop stops the scheduler and waits for a running cycle to finish
func (w *AuctionWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}

	err := w.scheduler.Shutdown()
	w.running = false
	w.logger.Info("auction worker stopped")
	return err
}

// IsRunning returns whether the worker is currently running
func (w *AuctionWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single cycle: settle everything past its end time, then
// open the oldest queued auction if none is active
func (w *AuctionWorker) RunOnce(ctx context.Context) {
	startTime := time.Now()

	settled, err := w.engine.SettleExpired(ctx)
	if err != nil {
		w.logger.Error("failed to settle expired auctions", "error", err)
	}

	activated, err := w.engine.ActivateNext(ctx)
	if err != nil {
		w.logger.Error("failed to activate next auction", "error", err)
	}

	if settled > 0 || activated != nil {
		attrs := []any{"duration", time.Since(startTime), "settled", settled}
		if activated != nil {
			attrs = append(attrs, "activated", activated.ID)
		}
		w.logger.Info("auction cycle completed", attrs...)
	}
}

// SyncBoard rebuilds the bidder board of the active auction from its bids.
// It is used on startup, when the cache may have been flushed.
func (w *AuctionWorker) SyncBoard(ctx context.Context) error {
	if w.board == nil {
		return nil
	}
	snap, err := w.engine.ActiveSnapshot(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrAuctionNotFound) {
			return nil
		}
		return err
	}
	if err := w.board.RebuildBoard(ctx, snap.Auction.ID, snap.Bids); err != nil {
		return err
	}
	w.logger.Info("bid board restored", "auction_id", snap.Auction.ID, "bids", len(snap.Bids))
	return nil
}
