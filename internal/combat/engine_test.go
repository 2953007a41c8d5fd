package combat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/legends-of-valor/internal/catalog"
	"github.com/legends-of-valor/internal/config"
	"github.com/legends-of-valor/internal/domain"
	"github.com/legends-of-valor/internal/ledger"
	"github.com/legends-of-valor/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	mu       sync.Mutex
	rounds   int
	finished int
}

func (m *countingMetrics) RoundResolved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds++
}

func (m *countingMetrics) CombatFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished++
}

// flakyCache is an in-process snapshot cache whose writes and evictions can
// be made to fail while reads keep working.
type flakyCache struct {
	mu        sync.Mutex
	snapshots map[string]*domain.Challenge
	failPut   bool
	failEvict bool
}

func newFlakyCache() *flakyCache {
	return &flakyCache{snapshots: map[string]*domain.Challenge{}}
}

func (c *flakyCache) PutChallenge(_ context.Context, ch *domain.Challenge) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPut {
		return errors.New("redis: i/o timeout")
	}
	if cur, ok := c.snapshots[ch.ID]; !ok || cur.Version < ch.Version {
		c.snapshots[ch.ID] = ch.Clone()
	}
	return nil
}

func (c *flakyCache) EvictChallenge(_ context.Context, challengeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failEvict {
		return errors.New("redis: i/o timeout")
	}
	delete(c.snapshots, challengeID)
	return nil
}

func (c *flakyCache) GetChallenge(_ context.Context, challengeID string) (*domain.Challenge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.snapshots[challengeID]; ok {
		return ch.Clone(), nil
	}
	return nil, nil
}

func (c *flakyCache) set(failPut, failEvict bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failPut, c.failEvict = failPut, failEvict
}

func (c *flakyCache) version(challengeID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.snapshots[challengeID]; ok {
		return ch.Version
	}
	return 0
}

type fixture struct {
	engine  *Engine
	store   *memory.Store
	metrics *countingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	cat, err := catalog.New([]domain.Item{
		{ID: "iron-sword", Name: "Iron Sword", Slot: "weapon", Tier: 1, Bonus: domain.Stats{Strength: 5}},
	}, nil)
	require.NoError(t, err)

	store := memory.NewStore()
	accounts := []*domain.Account{
		{ID: "alice", Username: "Alice", BaseStats: domain.Stats{Strength: 15}, EquippedItems: []string{"iron-sword"}},
		{ID: "bob", Username: "Bob", BaseStats: domain.Stats{Defense: 15}},
		{ID: "carol", Username: "Carol", BaseStats: domain.Stats{Speed: 5}},
	}
	for _, a := range accounts {
		require.NoError(t, store.PutAccount(ctx, a))
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ledgerSvc := ledger.NewService(store, cat, logger)
	metrics := &countingMetrics{}
	e := NewEngine(store, ledgerSvc, &config.CombatConfig{BaseHP: 100, RNGSeed: 7}, logger)
	e.SetMetrics(metrics)
	return &fixture{engine: e, store: store, metrics: metrics}
}

func (f *fixture) accepted(t *testing.T, challenger, challenged string) *domain.Challenge {
	t.Helper()
	ctx := context.Background()
	c, err := f.engine.CreateChallenge(ctx, challenger, challenged)
	require.NoError(t, err)
	c, err = f.engine.Accept(ctx, c.ID, challenged)
	require.NoError(t, err)
	return c
}

func TestCreateChallengeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateChallenge(ctx, "alice", "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.engine.CreateChallenge(ctx, "alice", "nobody")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	c, err := f.engine.CreateChallenge(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengePending, c.Status)
	assert.Nil(t, c.CombatState)
	assert.Nil(t, c.WinnerID)
}

func TestAcceptInitializesCombat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.engine.CreateChallenge(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = f.engine.Accept(ctx, c.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrNotParticipant, "only the challenged account accepts")

	c, err = f.engine.Accept(ctx, c.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeAccepted, c.Status)
	require.NotNil(t, c.AcceptedAt)
	require.NotNil(t, c.CombatState)

	cs := c.CombatState
	assert.Equal(t, 1, cs.Round)
	assert.Equal(t, domain.CombatWaiting, cs.Status)
	assert.Empty(t, cs.Log)

	// alice: base str 15 + sword 5
	assert.Equal(t, domain.Stats{Strength: 20}, cs.Combatants[0].Stats)
	assert.Equal(t, 100+4*20, cs.Combatants[0].MaxHP)
	assert.Equal(t, cs.Combatants[0].MaxHP, cs.Combatants[0].CurrentHP)
	assert.Equal(t, 100+10*15, cs.Combatants[1].MaxHP)

	_, err = f.engine.Accept(ctx, c.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestDeclineAndCancel(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		act     func(e *Engine, id string) (*domain.Challenge, error)
		wrong   func(e *Engine, id string) (*domain.Challenge, error)
		want    domain.ChallengeStatus
		wantErr error
	}{
		{
			name:  "decline by challenged",
			act:   func(e *Engine, id string) (*domain.Challenge, error) { return e.Decline(ctx, id, "bob") },
			wrong: func(e *Engine, id string) (*domain.Challenge, error) { return e.Decline(ctx, id, "alice") },
			want:  domain.ChallengeDeclined,
		},
		{
			name:  "cancel by challenger",
			act:   func(e *Engine, id string) (*domain.Challenge, error) { return e.Cancel(ctx, id, "alice") },
			wrong: func(e *Engine, id string) (*domain.Challenge, error) { return e.Cancel(ctx, id, "bob") },
			want:  domain.ChallengeCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c, err := f.engine.CreateChallenge(ctx, "alice", "bob")
			require.NoError(t, err)

			_, err = tt.wrong(f.engine, c.ID)
			assert.ErrorIs(t, err, domain.ErrNotParticipant)

			closed, err := tt.act(f.engine, c.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, closed.Status)
			assert.Nil(t, closed.CombatState)
			assert.True(t, closed.Status.Terminal())

			_, err = tt.act(f.engine, c.ID)
			assert.ErrorIs(t, err, domain.ErrInvalidState)
			_, err = f.engine.Accept(ctx, c.ID, "bob")
			assert.ErrorIs(t, err, domain.ErrInvalidState)
		})
	}
}

func TestSubmitActionRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.engine.CreateChallenge(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.engine.SubmitAction(ctx, pending.ID, "alice", domain.ActionAttack)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	c := f.accepted(t, "alice", "carol")
	_, err = f.engine.SubmitAction(ctx, c.ID, "bob", domain.ActionAttack)
	assert.ErrorIs(t, err, domain.ErrNotParticipant)

	_, err = f.engine.SubmitAction(ctx, c.ID, "alice", domain.Action("fireball"))
	assert.ErrorIs(t, err, domain.ErrInvalidAction)

	_, err = f.engine.SubmitAction(ctx, "missing", "alice", domain.ActionAttack)
	assert.ErrorIs(t, err, domain.ErrChallengeNotFound)
}

func TestDuplicateActionLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.accepted(t, "alice", "bob")

	_, err := f.engine.SubmitAction(ctx, c.ID, "alice", domain.ActionAttack)
	require.NoError(t, err)
	before, err := f.store.GetChallenge(ctx, c.ID)
	require.NoError(t, err)

	for _, again := range allActions {
		_, err = f.engine.SubmitAction(ctx, c.ID, "alice", again)
		assert.ErrorIs(t, err, domain.ErrDuplicateAction)
	}

	after, err := f.store.GetChallenge(ctx, c.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("state changed after duplicate submission (-before +after):\n%s", diff)
	}
	assert.Equal(t, domain.ActionAttack, *after.CombatState.Combatants[0].PendingAction)
}

func TestOpponentActionIsHidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.accepted(t, "alice", "bob")

	own, err := f.engine.SubmitAction(ctx, c.ID, "alice", domain.ActionTrick)
	require.NoError(t, err)
	require.NotNil(t, own.Combatants[0].PendingAction)
	assert.Equal(t, domain.ActionTrick, *own.Combatants[0].PendingAction)

	seen, err := f.engine.GetCombat(ctx, c.ID, "bob")
	require.NoError(t, err)
	require.NotNil(t, seen.Combatants[0].PendingAction)
	assert.Equal(t, domain.Action("hidden"), *seen.Combatants[0].PendingAction)
	assert.Nil(t, seen.Combatants[1].PendingAction)
}

func TestFailedSnapshotWriteDoesNotServeStaleCombat(t *testing.T) {
	tests := []struct {
		name      string
		failEvict bool
	}{
		{name: "stale snapshot evicted"},
		{name: "eviction also fails", failEvict: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			cache := newFlakyCache()
			f.engine.SetCache(cache)

			c := f.accepted(t, "alice", "bob")
			require.Equal(t, c.Version, cache.version(c.ID))

			cache.set(true, tt.failEvict)
			_, err := f.engine.SubmitAction(ctx, c.ID, "alice", domain.ActionAttack)
			require.NoError(t, err)

			cs, err := f.engine.GetCombat(ctx, c.ID, "alice")
			require.NoError(t, err)
			require.NotNil(t, cs.Combatants[0].PendingAction)
			assert.Equal(t, domain.ActionAttack, *cs.Combatants[0].PendingAction)

			_, err = f.engine.SubmitAction(ctx, c.ID, "bob", domain.ActionDefend)
			require.NoError(t, err)
			cs, err = f.engine.GetCombat(ctx, c.ID, "bob")
			require.NoError(t, err)
			assert.Equal(t, 2, cs.Round)

			// once writes recover the next read repopulates the snapshot
			cache.set(false, false)
			cs, err = f.engine.GetCombat(ctx, c.ID, "alice")
			require.NoError(t, err)
			assert.Equal(t, 2, cs.Round)
			stored, err := f.store.GetChallenge(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, stored.Version, cache.version(c.ID))
		})
	}
}

func TestRoundResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.accepted(t, "alice", "bob")

	cs, err := f.engine.SubmitAction(ctx, c.ID, "alice", domain.ActionAttack)
	require.NoError(t, err)
	assert.Equal(t, 1, cs.Round)
	assert.Empty(t, cs.Log)

	cs, err = f.engine.SubmitAction(ctx, c.ID, "bob", domain.ActionDefend)
	require.NoError(t, err)

	assert.Equal(t, 2, cs.Round)
	assert.Equal(t, domain.CombatWaiting, cs.Status)
	assert.Nil(t, cs.Combatants[0].PendingAction)
	assert.Nil(t, cs.Combatants[1].PendingAction)
	assert.Equal(t, cs.Combatants[0].MaxHP, cs.Combatants[0].CurrentHP)
	assert.Equal(t, cs.Combatants[1].MaxHP-23, cs.Combatants[1].CurrentHP)
	require.Len(t, cs.Log, 1)
	assert.Contains(t, cs.Log[0], "Round 1:")
	assert.Equal(t, 1, f.metrics.rounds)
}

func TestFightToFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.accepted(t, "alice", "bob")

	var cs *domain.CombatState
	for i := 0; i < 100; i++ {
		var err error
		_, err = f.engine.SubmitAction(ctx, c.ID, "bob", domain.ActionAttack)
		require.NoError(t, err)
		cs, err = f.engine.SubmitAction(ctx, c.ID, "alice", domain.ActionAttack)
		require.NoError(t, err)
		if cs.Status == domain.CombatFinished {
			break
		}
	}
	require.Equal(t, domain.CombatFinished, cs.Status)
	require.NotNil(t, cs.WinnerID)

	// alice hits for 68 against 250 hp, bob hits for 8 against 180 hp
	assert.Equal(t, "alice", *cs.WinnerID)
	assert.Equal(t, 0, cs.Combatants[1].CurrentHP)
	assert.Positive(t, cs.Combatants[0].CurrentHP)
	assert.Equal(t, 4, cs.Round)

	stored, err := f.store.GetChallenge(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeCompleted, stored.Status)
	require.NotNil(t, stored.WinnerID)
	assert.Equal(t, "alice", *stored.WinnerID)
	assert.NotNil(t, stored.CompletedAt)

	alice, err := f.store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	bob, err := f.store.GetAccount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, alice.Wins)
	assert.Equal(t, 1, bob.Losses)
	assert.Equal(t, 1, f.metrics.finished)

	_, err = f.engine.SubmitAction(ctx, c.ID, "alice", domain.ActionAttack)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestConcurrentSubmissionsResolveOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const battles = 20
	ids := make([]string, battles)
	for i := range ids {
		ids[i] = f.accepted(t, "alice", "bob").ID
	}

	var mu sync.Mutex
	duplicates := make(map[string]int)
	var wg sync.WaitGroup
	for _, id := range ids {
		for _, who := range []string{"alice", "bob", "alice", "bob"} {
			wg.Add(1)
			go func(id, who string) {
				defer wg.Done()
				_, err := f.engine.SubmitAction(ctx, id, who, domain.ActionDefend)
				if err == nil {
					return
				}
				assert.ErrorIs(t, err, domain.ErrDuplicateAction)
				mu.Lock()
				duplicates[id]++
				mu.Unlock()
			}(id, who)
		}
	}
	wg.Wait()

	total := 0
	for _, id := range ids {
		c, err := f.store.GetChallenge(ctx, id)
		require.NoError(t, err)
		cs := c.CombatState
		resolved := cs.Round - 1
		assert.Len(t, cs.Log, resolved, "challenge %s", id)
		// every submission resolved a round, is still pending, or was a duplicate
		assert.Equal(t, 4, 2*resolved+cs.PendingCount()+duplicates[id], "challenge %s", id)
		total += resolved
	}
	assert.Equal(t, total, f.metrics.rounds)
}

func TestCorruptStateIsReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.accepted(t, "alice", "bob")

	_, err := f.store.UpdateChallenge(ctx, c.ID, func(c *domain.Challenge) error {
		c.CombatState.Combatants[0].CurrentHP = 0
		c.CombatState.Combatants[1].CurrentHP = 0
		return nil
	})
	require.NoError(t, err)

	_, err = f.engine.SubmitAction(ctx, c.ID, "alice", domain.ActionAttack)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}
