// Package combat drives asynchronous two-player battles from an accepted
// challenge to a resolved winner.
package combat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/legends-of-valor/internal/config"
	"github.com/legends-of-valor/internal/domain"
)

// Store persists challenges and their combat state
type Store interface {
	CreateChallenge(ctx context.Context, c *domain.Challenge) error
	GetChallenge(ctx context.Context, challengeID string) (*domain.Challenge, error)
	// UpdateChallenge loads the challenge under an exclusive per-challenge
	// lock, applies fn and persists the result in one atomic step. When fn
	// returns an error nothing is written. An update that decides the battle
	// also credits the winner's win and the loser's loss in that same step.
	UpdateChallenge(ctx context.Context, challengeID string, fn func(c *domain.Challenge) error) (*domain.Challenge, error)
	ListChallenges(ctx context.Context, accountID string) ([]domain.Challenge, error)
}

// Ledger is the slice of the account ledger the engine needs
type Ledger interface {
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	EffectiveStats(ctx context.Context, accountID string) (domain.Stats, error)
}

// Notifier receives activity events; it must not block or fail the caller
type Notifier interface {
	Record(ctx context.Context, event domain.ActivityEvent)
}

// Cache serves polling reads of challenges
type Cache interface {
	PutChallenge(ctx context.Context, c *domain.Challenge) error
	EvictChallenge(ctx context.Context, challengeID string) error
	// GetChallenge returns nil, nil on a miss
	GetChallenge(ctx context.Context, challengeID string) (*domain.Challenge, error)
}

// Metrics counts battle progress
type Metrics interface {
	RoundResolved()
	CombatFinished()
}

// Engine owns the life cycle of PvP challenges
type Engine struct {
	store    Store
	ledger   Ledger
	notifier Notifier
	cache    Cache
	metrics  Metrics
	config   *config.CombatConfig
	logger   *slog.Logger
	now      func() time.Time

	// challenges whose last snapshot write failed; read from the store
	// until a write succeeds
	stale sync.Map
}

// NewEngine creates a new combat engine
func NewEngine(store Store, ledger Ledger, cfg *config.CombatConfig, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		ledger:   ledger,
		notifier: nopNotifier{},
		metrics:  nopMetrics{},
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetNotifier sets the activity feed sink
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// SetCache sets the read cache
func (e *Engine) SetCache(c Cache) { e.cache = c }

// SetMetrics sets the metrics recorder
func (e *Engine) SetMetrics(m Metrics) { e.metrics = m }

// SetClock overrides the time source
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// NewCombatState initializes a battle between the challenger and the challenged
func NewCombatState(baseHP int, challenger *domain.Account, challengerStats domain.Stats, challenged *domain.Account, challengedStats domain.Stats) *domain.CombatState {
	side := func(a *domain.Account, s domain.Stats) domain.Combatant {
		hp := MaxHP(baseHP, s)
		return domain.Combatant{
			ID:        a.ID,
			Name:      a.Username,
			CurrentHP: hp,
			MaxHP:     hp,
			Stats:     s,
		}
	}
	return &domain.CombatState{
		Round:      1,
		Combatants: [2]domain.Combatant{side(challenger, challengerStats), side(challenged, challengedStats)},
		Log:        []string{},
		Status:     domain.CombatWaiting,
	}
}

// CreateChallenge records a pending challenge from challenger to challenged
func (e *Engine) CreateChallenge(ctx context.Context, challengerID, challengedID string) (*domain.Challenge, error) {
	if challengerID == "" || challengedID == "" || challengerID == challengedID {
		return nil, domain.ErrInvalidRequest
	}
	for _, id := range []string{challengerID, challengedID} {
		if _, err := e.ledger.GetAccount(ctx, id); err != nil {
			return nil, err
		}
	}

	c := &domain.Challenge{
		ID:           uuid.NewString(),
		ChallengerID: challengerID,
		ChallengedID: challengedID,
		Status:       domain.ChallengePending,
		Version:      1,
		CreatedAt:    e.now(),
	}
	if err := e.store.CreateChallenge(ctx, c); err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}

	e.record(ctx, domain.EventChallengeCreated, c, challengerID, map[string]interface{}{
		"challenged_id": challengedID,
	})
	return c, nil
}

// GetChallenge returns a challenge, preferring the cache
func (e *Engine) GetChallenge(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	if _, bypass := e.stale.Load(challengeID); e.cache != nil && !bypass {
		c, err := e.cache.GetChallenge(ctx, challengeID)
		if err != nil {
			e.logger.Warn("challenge cache read failed", "challenge_id", challengeID, "error", err)
		} else if c != nil {
			return c, nil
		}
	}

	c, err := e.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	e.cachePut(ctx, c)
	return c, nil
}

// ListChallenges returns every challenge the account takes part in
func (e *Engine) ListChallenges(ctx context.Context, accountID string) ([]domain.Challenge, error) {
	return e.store.ListChallenges(ctx, accountID)
}

// GetCombat returns the current combat state as seen by viewerID. The
// opponent's pending action is hidden until the round resolves.
func (e *Engine) GetCombat(ctx context.Context, challengeID, viewerID string) (*domain.CombatState, error) {
	c, err := e.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if c.CombatState == nil {
		return nil, domain.ErrInvalidState
	}
	return c.CombatState.Redacted(viewerID), nil
}

// Accept moves a pending challenge to accepted and initializes combat.
// Only the challenged account may accept.
func (e *Engine) Accept(ctx context.Context, challengeID, accountID string) (*domain.Challenge, error) {
	current, err := e.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if accountID != current.ChallengedID {
		return nil, domain.ErrNotParticipant
	}
	if current.Status != domain.ChallengePending {
		return nil, domain.ErrInvalidState
	}

	challenger, err := e.ledger.GetAccount(ctx, current.ChallengerID)
	if err != nil {
		return nil, err
	}
	challenged, err := e.ledger.GetAccount(ctx, current.ChallengedID)
	if err != nil {
		return nil, err
	}
	challengerStats, err := e.ledger.EffectiveStats(ctx, challenger.ID)
	if err != nil {
		return nil, err
	}
	challengedStats, err := e.ledger.EffectiveStats(ctx, challenged.ID)
	if err != nil {
		return nil, err
	}

	updated, err := e.store.UpdateChallenge(ctx, challengeID, func(c *domain.Challenge) error {
		if c.Status != domain.ChallengePending {
			return domain.ErrInvalidState
		}
		now := e.now()
		c.Status = domain.ChallengeAccepted
		c.AcceptedAt = &now
		c.CombatState = NewCombatState(e.config.BaseHP, challenger, challengerStats, challenged, challengedStats)
		c.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.cachePut(ctx, updated)
	e.record(ctx, domain.EventChallengeAccepted, updated, accountID, nil)
	e.logger.Info("challenge accepted",
		"challenge_id", challengeID,
		"challenger_hp", updated.CombatState.Combatants[0].MaxHP,
		"challenged_hp", updated.CombatState.Combatants[1].MaxHP,
	)
	return updated, nil
}

// Decline closes a pending challenge on behalf of the challenged account
func (e *Engine) Decline(ctx context.Context, challengeID, accountID string) (*domain.Challenge, error) {
	return e.close(ctx, challengeID, accountID, domain.ChallengeDeclined, domain.EventChallengeDeclined, func(c *domain.Challenge) string {
		return c.ChallengedID
	})
}

// Cancel withdraws a pending challenge on behalf of the challenger
func (e *Engine) Cancel(ctx context.Context, challengeID, accountID string) (*domain.Challenge, error) {
	return e.close(ctx, challengeID, accountID, domain.ChallengeCancelled, domain.EventChallengeCancelled, func(c *domain.Challenge) string {
		return c.ChallengerID
	})
}

func (e *Engine) close(ctx context.Context, challengeID, accountID string, to domain.ChallengeStatus, event string, party func(*domain.Challenge) string) (*domain.Challenge, error) {
	updated, err := e.store.UpdateChallenge(ctx, challengeID, func(c *domain.Challenge) error {
		if accountID != party(c) {
			return domain.ErrNotParticipant
		}
		if c.Status != domain.ChallengePending {
			return domain.ErrInvalidState
		}
		c.Status = to
		c.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.cachePut(ctx, updated)
	e.record(ctx, event, updated, accountID, nil)
	return updated, nil
}

// SubmitAction records one combatant's action for the current round. The
// call never waits for the opponent: whichever submission completes the
// pair resolves the round before returning.
func (e *Engine) SubmitAction(ctx context.Context, challengeID, accountID string, action domain.Action) (*domain.CombatState, error) {
	if _, err := domain.ParseAction(string(action)); err != nil {
		return nil, err
	}

	var result *roundResult
	updated, err := e.store.UpdateChallenge(ctx, challengeID, func(c *domain.Challenge) error {
		result = nil
		if !c.IsParticipant(accountID) {
			return domain.ErrNotParticipant
		}
		if c.Status != domain.ChallengeAccepted || c.CombatState == nil {
			return domain.ErrInvalidState
		}
		cs := c.CombatState
		if err := checkInvariants(c); err != nil {
			return err
		}
		if cs.Status == domain.CombatFinished {
			return domain.ErrInvalidState
		}

		side := cs.Side(accountID)
		if side < 0 {
			return fmt.Errorf("%w: participant %s missing from combat of %s", domain.ErrInvariantViolation, accountID, c.ID)
		}
		if cs.Combatants[side].PendingAction != nil {
			return domain.ErrDuplicateAction
		}

		chosen := action
		cs.Combatants[side].PendingAction = &chosen
		c.Version++

		if cs.PendingCount() < 2 {
			return nil
		}
		result = e.resolveRound(c)
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvariantViolation) {
			e.logger.Error("combat invariant violated", "challenge_id", challengeID, "error", err)
		}
		return nil, err
	}

	e.cachePut(ctx, updated)
	e.afterSubmit(ctx, updated, accountID, result)
	return updated.CombatState.Redacted(accountID), nil
}

type roundResult struct {
	round    int
	outcome  Outcome
	finished bool
	winnerID string
	loserID  string
}

// resolveRound applies both pending actions. It runs inside the store's
// critical section and mutates c in place.
func (e *Engine) resolveRound(c *domain.Challenge) *roundResult {
	cs := c.CombatState
	cs.Status = domain.CombatResolved

	var actions [2]domain.Action
	var stats [2]domain.Stats
	var names [2]string
	for i := range cs.Combatants {
		actions[i] = *cs.Combatants[i].PendingAction
		stats[i] = cs.Combatants[i].Stats
		names[i] = cs.Combatants[i].Name
	}

	out := Resolve(actions, stats, names, NewRoller(e.config.RNGSeed, c.ID, cs.Round))

	var raw [2]int
	for i := range cs.Combatants {
		cb := &cs.Combatants[i]
		raw[i] = cb.CurrentHP - out.Damage[i]
		cb.CurrentHP = min(max(raw[i], 0), cb.MaxHP)
		cb.PendingAction = nil
	}
	cs.Log = append(cs.Log, fmt.Sprintf("Round %d: %s", cs.Round, out.Summary))

	res := &roundResult{round: cs.Round, outcome: out}

	if cs.Combatants[0].CurrentHP > 0 && cs.Combatants[1].CurrentHP > 0 {
		cs.Status = domain.CombatWaiting
		cs.Round++
		return res
	}

	w := winnerSide(cs, raw)
	winner, loser := cs.Combatants[w], cs.Combatants[1-w]
	now := e.now()

	cs.Status = domain.CombatFinished
	cs.WinnerID = &winner.ID
	cs.Log = append(cs.Log, fmt.Sprintf("%s defeats %s.", winner.Name, loser.Name))

	winnerID := winner.ID
	c.Status = domain.ChallengeCompleted
	c.WinnerID = &winnerID
	c.CompletedAt = &now

	res.finished = true
	res.winnerID = winner.ID
	res.loserID = loser.ID
	return res
}

// winnerSide picks the winner once at least one side is at zero HP. On a
// double knockout the side with the higher pre-clamp HP (least overkill)
// wins, then the side with the higher max HP, then the challenger.
func winnerSide(cs *domain.CombatState, raw [2]int) int {
	a, b := cs.Combatants[0], cs.Combatants[1]
	switch {
	case a.CurrentHP > 0:
		return 0
	case b.CurrentHP > 0:
		return 1
	case raw[0] != raw[1]:
		if raw[0] > raw[1] {
			return 0
		}
		return 1
	case a.MaxHP != b.MaxHP:
		if a.MaxHP > b.MaxHP {
			return 0
		}
		return 1
	default:
		return 0
	}
}

// checkInvariants detects persisted states no valid sequence of calls can produce
func checkInvariants(c *domain.Challenge) error {
	cs := c.CombatState
	bad := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: challenge %s: %s", domain.ErrInvariantViolation, c.ID, fmt.Sprintf(format, args...))
	}
	if cs.Round < 1 {
		return bad("round %d", cs.Round)
	}
	switch cs.Status {
	case domain.CombatWaiting:
		for _, cb := range cs.Combatants {
			if cb.CurrentHP <= 0 {
				return bad("%s at %d hp while waiting", cb.ID, cb.CurrentHP)
			}
		}
		if cs.PendingCount() == 2 {
			return bad("two pending actions while waiting")
		}
	case domain.CombatFinished:
		if cs.WinnerID == nil {
			return bad("finished without winner")
		}
	default:
		return bad("persisted status %q", cs.Status)
	}
	return nil
}

func (e *Engine) afterSubmit(ctx context.Context, c *domain.Challenge, accountID string, res *roundResult) {
	if res == nil {
		e.record(ctx, domain.EventActionSubmitted, c, accountID, map[string]interface{}{
			"round": c.CombatState.Round,
		})
		return
	}

	e.metrics.RoundResolved()
	log := c.CombatState.Log
	e.record(ctx, domain.EventRoundResolved, c, accountID, map[string]interface{}{
		"round":  res.round,
		"damage": res.outcome.Damage,
		"line":   log[len(log)-1],
	})
	if !res.finished {
		return
	}

	e.metrics.CombatFinished()
	e.record(ctx, domain.EventCombatFinished, c, res.winnerID, map[string]interface{}{
		"winner_id": res.winnerID,
		"loser_id":  res.loserID,
		"rounds":    res.round,
	})
	e.logger.Info("combat finished",
		"challenge_id", c.ID,
		"winner_id", res.winnerID,
		"rounds", res.round,
	)
}

func (e *Engine) cachePut(ctx context.Context, c *domain.Challenge) {
	if e.cache == nil {
		return
	}
	err := e.cache.PutChallenge(ctx, c)
	if err == nil {
		e.stale.Delete(c.ID)
		return
	}
	e.logger.Warn("failed to cache challenge", "challenge_id", c.ID, "version", c.Version, "error", err)

	// the cached snapshot is now behind the store
	e.stale.Store(c.ID, struct{}{})
	if err := e.cache.EvictChallenge(ctx, c.ID); err != nil {
		e.logger.Warn("failed to evict stale challenge snapshot", "challenge_id", c.ID, "error", err)
	}
}

func (e *Engine) record(ctx context.Context, eventType string, c *domain.Challenge, accountID string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["challenge_id"] = c.ID
	data["status"] = string(c.Status)
	e.notifier.Record(ctx, domain.ActivityEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Topic:     domain.ChallengeTopic(c.ID),
		AccountID: accountID,
		Data:      data,
		Timestamp: e.now(),
	})
}

type nopNotifier struct{}

func (nopNotifier) Record(context.Context, domain.ActivityEvent) {}

type nopMetrics struct{}

func (nopMetrics) RoundResolved()  {}
func (nopMetrics) CombatFinished() {}
