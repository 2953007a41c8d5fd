package auction_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/legends-of-valor/internal/auction"
	"github.com/legends-of-valor/internal/catalog"
	"github.com/legends-of-valor/internal/config"
	"github.com/legends-of-valor/internal/domain"
	"github.com/legends-of-valor/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.ActivityEvent
}

func (n *recordingNotifier) Record(_ context.Context, e domain.ActivityEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	engine   *auction.Engine
	store    *memory.Store
	clock    *fakeClock
	notifier *recordingNotifier
}

const duration = time.Hour

func newFixture(t *testing.T, gold map[string]int64) *fixture {
	t.Helper()
	cat, err := catalog.New(nil, []domain.Skill{
		{ID: "fireball", Name: "Fireball", Tier: 1},
		{ID: "blink", Name: "Blink", Tier: 2},
	})
	require.NoError(t, err)

	store := memory.NewStore()
	for id, g := range gold {
		require.NoError(t, store.PutAccount(context.Background(), &domain.Account{ID: id, Username: id, Gold: g}))
	}

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	e := auction.NewEngine(store, store, cat, &config.AuctionConfig{Duration: duration, MinimumBid: 100}, logger)
	e.SetClock(clock.Now)
	e.SetNotifier(notifier)
	return &fixture{engine: e, store: store, clock: clock, notifier: notifier}
}

func (f *fixture) active(t *testing.T) *domain.SkillAuction {
	t.Helper()
	ctx := context.Background()
	a, err := f.engine.Queue(ctx, "fireball")
	require.NoError(t, err)
	a, err = f.engine.Activate(ctx, a.ID)
	require.NoError(t, err)
	return a
}

func (f *fixture) gold(t *testing.T, id string) int64 {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.Gold
}

func TestQueueUnknownSkill(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.Queue(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrSkillNotFound)
}

func TestActivate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	a := f.active(t)
	assert.Equal(t, domain.AuctionActive, a.Status)
	require.NotNil(t, a.StartAt)
	require.NotNil(t, a.EndAt)
	assert.Equal(t, duration, a.EndAt.Sub(*a.StartAt))

	t.Run("already active", func(t *testing.T) {
		_, err := f.engine.Activate(ctx, a.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("second auction while one is active", func(t *testing.T) {
		other, err := f.engine.Queue(ctx, "blink")
		require.NoError(t, err)
		_, err = f.engine.Activate(ctx, other.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidState)

		stored, err := f.store.GetAuction(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.AuctionQueued, stored.Status)
	})

	t.Run("unknown auction", func(t *testing.T) {
		_, err := f.engine.Activate(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
	})
}

func TestActivateNextTakesOldestQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	first, err := f.engine.Queue(ctx, "blink")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.engine.Queue(ctx, "fireball")
	require.NoError(t, err)

	got, err := f.engine.ActivateNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)

	// one is active, nothing more to do
	got, err = f.engine.ActivateNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPlaceBidValidation(t *testing.T) {
	tests := []struct {
		name    string
		bidder  string
		amount  int64
		wantErr error
	}{
		{name: "below configured minimum", bidder: "alice", amount: 99, wantErr: domain.ErrBidTooLow},
		{name: "zero amount", bidder: "alice", amount: 0, wantErr: domain.ErrInvalidRequest},
		{name: "negative amount", bidder: "alice", amount: -5, wantErr: domain.ErrInvalidRequest},
		{name: "unknown bidder", bidder: "mallory", amount: 150, wantErr: domain.ErrNotParticipant},
		{name: "more than balance", bidder: "alice", amount: 1001, wantErr: domain.ErrInsufficientFunds},
		{name: "minimum accepted", bidder: "alice", amount: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string]int64{"alice": 1000})
			a := f.active(t)

			bid, err := f.engine.PlaceBid(context.Background(), a.ID, tt.bidder, tt.amount)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, bid)
				assert.Equal(t, int64(1000), f.gold(t, "alice"))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.amount, bid.Amount)
			assert.Equal(t, 1000-tt.amount, f.gold(t, "alice"))
		})
	}
}

func TestPlaceBidNotActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int64{"alice": 1000})

	queued, err := f.engine.Queue(ctx, "fireball")
	require.NoError(t, err)
	_, err = f.engine.PlaceBid(ctx, queued.ID, "alice", 200)
	assert.ErrorIs(t, err, domain.ErrAuctionNotActive)

	_, err = f.engine.PlaceBid(ctx, "missing", "alice", 200)
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

func TestPlaceBidDeadlineUsesServerTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int64{"alice": 1000})
	a := f.active(t)

	f.clock.Advance(duration - time.Nanosecond)
	_, err := f.engine.PlaceBid(ctx, a.ID, "alice", 100)
	require.NoError(t, err)

	f.clock.Advance(time.Nanosecond)
	_, err = f.engine.PlaceBid(ctx, a.ID, "alice", 200)
	assert.ErrorIs(t, err, domain.ErrAuctionNotActive)
	assert.Equal(t, int64(900), f.gold(t, "alice"))
}

func TestOutbidReleasesEscrow(t *testing.T) {
	for _, order := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		t.Run(order[0]+" first", func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, map[string]int64{"alice": 1000, "bob": 1000})
			a := f.active(t)
			amounts := map[string]int64{"alice": 500, "bob": 501}

			_, err := f.engine.PlaceBid(ctx, a.ID, order[0], amounts[order[0]])
			require.NoError(t, err)
			_, err = f.engine.PlaceBid(ctx, a.ID, order[1], amounts[order[1]])
			if order[0] == "bob" {
				assert.ErrorIs(t, err, domain.ErrBidTooLow)
			} else {
				require.NoError(t, err)
			}

			snap, err := f.engine.Snapshot(ctx, a.ID)
			require.NoError(t, err)
			require.NotNil(t, snap.HighestBid)
			assert.Equal(t, int64(501), snap.HighestBid.Amount)
			assert.Equal(t, "bob", snap.HighestBid.BidderID)
			assert.Equal(t, int64(502), snap.MinimumBid)

			assert.Equal(t, int64(1000), f.gold(t, "alice"))
			assert.Equal(t, int64(499), f.gold(t, "bob"))
		})
	}
}

func TestEqualBidRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int64{"alice": 1000, "bob": 1000})
	a := f.active(t)

	_, err := f.engine.PlaceBid(ctx, a.ID, "alice", 300)
	require.NoError(t, err)
	_, err = f.engine.PlaceBid(ctx, a.ID, "bob", 300)
	assert.ErrorIs(t, err, domain.ErrBidTooLow)
	assert.Equal(t, int64(1000), f.gold(t, "bob"))
}

func TestSelfRaiseChargesOnlyTheDifference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int64{"alice": 600})
	a := f.active(t)

	_, err := f.engine.PlaceBid(ctx, a.ID, "alice", 400)
	require.NoError(t, err)
	assert.Equal(t, int64(200), f.gold(t, "alice"))

	// 600 total is affordable because 400 is already held
	_, err = f.engine.PlaceBid(ctx, a.ID, "alice", 600)
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.gold(t, "alice"))

	_, err = f.engine.PlaceBid(ctx, a.ID, "alice", 601)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(0), f.gold(t, "alice"))
}

func TestEscrowedGoldCannotBeSpentElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int64{"alice": 500})
	a := f.active(t)

	_, err := f.engine.PlaceBid(ctx, a.ID, "alice", 400)
	require.NoError(t, err)

	_, err = f.store.AdjustGold(ctx, "alice", -200)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(100), f.gold(t, "alice"))
}

func TestConcurrentBidsStayOrdered(t *testing.T) {
	ctx := context.Background()
	const bidders = 32
	gold := make(map[string]int64, bidders)
	for i := 0; i < bidders; i++ {
		gold[fmt.Sprintf("p%02d", i)] = 10_000
	}
	f := newFixture(t, gold)
	a := f.active(t)

	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.engine.PlaceBid(ctx, a.ID, fmt.Sprintf("p%02d", i), int64(100+i*10))
		}(i)
	}
	wg.Wait()

	bids, err := f.store.ListBids(ctx, a.ID)
	require.NoError(t, err)
	require.NotEmpty(t, bids)
	for i := 1; i < len(bids); i++ {
		assert.Greater(t, bids[i].Amount, bids[i-1].Amount)
	}
	top := bids[len(bids)-1]
	assert.Equal(t, int64(100+(bidders-1)*10), top.Amount)

	var total int64
	for id := range gold {
		total += f.gold(t, id)
	}
	assert.Equal(t, int64(bidders*10_000)-top.Amount, total)
}

func TestConcurrentSpendNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int64{"alice": 1000})
	a := f.active(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = f.engine.PlaceBid(ctx, a.ID, "alice", int64(500+i*100))
		}(i)
		go func() {
			defer wg.Done()
			_, _ = f.store.AdjustGold(ctx, "alice", -150)
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, f.gold(t, "alice"), int64(0))
}

func TestSettle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int64{"alice": 1000, "bob": 1000})
	a := f.active(t)

	_, err := f.engine.PlaceBid(ctx, a.ID, "alice", 300)
	require.NoError(t, err)
	winning, err := f.engine.PlaceBid(ctx, a.ID, "bob", 350)
	require.NoError(t, err)

	_, err = f.engine.Settle(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "settling before the deadline")

	f.clock.Advance(duration)
	settled, err := f.engine.Settle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionCompleted, settled.Status)
	require.NotNil(t, settled.WinnerID)
	require.NotNil(t, settled.WinningBidID)
	assert.Equal(t, "bob", *settled.WinnerID)
	assert.Equal(t, winning.ID, *settled.WinningBidID)

	skills, err := f.store.ListPlayerSkills(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, "fireball", skills[0].SkillID)
	assert.Equal(t, domain.SkillSourceAuction, skills[0].Source)
	assert.False(t, skills[0].IsEquipped)

	assert.Equal(t, int64(650), f.gold(t, "bob"))
	assert.Equal(t, int64(1000), f.gold(t, "alice"))

	t.Run("second settle is a no-op", func(t *testing.T) {
		again, err := f.engine.Settle(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, settled.Version, again.Version)

		skills, err := f.store.ListPlayerSkills(ctx, "bob")
		require.NoError(t, err)
		assert.Len(t, skills, 1)
		assert.Equal(t, int64(650), f.gold(t, "bob"))
	})

	t.Run("bids after settlement are rejected", func(t *testing.T) {
		_, err := f.engine.PlaceBid(ctx, a.ID, "alice", 900)
		assert.ErrorIs(t, err, domain.ErrAuctionNotActive)
	})

	assert.Contains(t, f.notifier.types(), domain.EventBidOutbid)
	assert.Contains(t, f.notifier.types(), domain.EventAuctionSettled)
}

func TestSettleWithoutBids(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int64{"alice": 1000})
	a := f.active(t)

	f.clock.Advance(duration)
	settled, err := f.engine.Settle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionCompleted, settled.Status)
	assert.Nil(t, settled.WinnerID)
	assert.Nil(t, settled.WinningBidID)

	skills, err := f.store.ListPlayerSkills(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, skills)
}

func TestSettleQueuedAuction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a, err := f.engine.Queue(ctx, "blink")
	require.NoError(t, err)

	_, err = f.engine.Settle(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSettleExpiredThenActivateNext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int64{"alice": 1000})
	a := f.active(t)
	next, err := f.engine.Queue(ctx, "blink")
	require.NoError(t, err)

	n, err := f.engine.SettleExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(duration + time.Minute)
	n, err = f.engine.SettleExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	done, err := f.store.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionCompleted, done.Status)

	activated, err := f.engine.ActivateNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, activated)
	assert.Equal(t, next.ID, activated.ID)

	snap, err := f.engine.ActiveSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, next.ID, snap.Auction.ID)
	require.NotNil(t, snap.Skill)
	assert.Equal(t, "Blink", snap.Skill.Name)
	assert.Equal(t, int64(100), snap.MinimumBid)
}

func TestActiveSnapshotWithoutAuction(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.ActiveSnapshot(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
}
