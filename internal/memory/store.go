// Package memory is an in-process store with the same atomicity guarantees
// as the postgres store. All mutations are serialized by one mutex.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/legends-of-valor/internal/auction"
	"github.com/legends-of-valor/internal/domain"
)

// Store implements the combat, auction and ledger stores
type Store struct {
	mu         sync.Mutex
	accounts   map[string]*domain.Account
	challenges map[string]*domain.Challenge
	auctions   map[string]*domain.SkillAuction
	bids       map[string][]domain.SkillBid
	skills     map[string][]domain.PlayerSkill
	events     []domain.ActivityEvent
	eventIDs   map[string]struct{}
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		accounts:   make(map[string]*domain.Account),
		challenges: make(map[string]*domain.Challenge),
		auctions:   make(map[string]*domain.SkillAuction),
		bids:       make(map[string][]domain.SkillBid),
		skills:     make(map[string][]domain.PlayerSkill),
		eventIDs:   make(map[string]struct{}),
	}
}

// PutAccount inserts or replaces an account
func (s *Store) PutAccount(_ context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	cp.EquippedItems = append([]string(nil), a.EquippedItems...)
	s.accounts[a.ID] = &cp
	return nil
}

// --- ledger ---

// GetAccount returns a copy of an account
func (s *Store) GetAccount(_ context.Context, accountID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	cp.EquippedItems = append([]string(nil), a.EquippedItems...)
	return &cp, nil
}

// AdjustGold applies a conditional balance change
func (s *Store) AdjustGold(_ context.Context, accountID string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustGoldLocked(accountID, delta)
}

func (s *Store) adjustGoldLocked(accountID string, delta int64) (int64, error) {
	a, ok := s.accounts[accountID]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	if a.Gold+delta < 0 {
		return 0, domain.ErrInsufficientFunds
	}
	a.Gold += delta
	a.UpdatedAt = time.Now()
	return a.Gold, nil
}

// recordResult credits a decided battle; callers hold s.mu
func (s *Store) recordResult(c *domain.Challenge) error {
	winner, ok := s.accounts[*c.WinnerID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	loser, ok := s.accounts[c.Opponent(*c.WinnerID)]
	if !ok {
		return domain.ErrAccountNotFound
	}
	now := time.Now()
	winner.Wins++
	winner.UpdatedAt = now
	loser.Losses++
	loser.UpdatedAt = now
	return nil
}

// ListPlayerSkills returns an account's grants, oldest first
func (s *Store) ListPlayerSkills(_ context.Context, accountID string) ([]domain.PlayerSkill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PlayerSkill(nil), s.skills[accountID]...), nil
}

// EquipSkill equips one grant and unequips the rest
func (s *Store) EquipSkill(_ context.Context, accountID, playerSkillID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	grants := s.skills[accountID]
	found := false
	for i := range grants {
		if grants[i].ID == playerSkillID {
			found = true
		}
	}
	if !found {
		return domain.ErrSkillNotFound
	}
	for i := range grants {
		grants[i].IsEquipped = grants[i].ID == playerSkillID
	}
	return nil
}

// GrantSkill records a skill grant outside of an auction
func (s *Store) GrantSkill(_ context.Context, grant *domain.PlayerSkill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[grant.AccountID]; !ok {
		return domain.ErrAccountNotFound
	}
	s.grantLocked(*grant)
	return nil
}

func (s *Store) grantLocked(g domain.PlayerSkill) {
	if g.IsEquipped {
		grants := s.skills[g.AccountID]
		for i := range grants {
			grants[i].IsEquipped = false
		}
	}
	s.skills[g.AccountID] = append(s.skills[g.AccountID], g)
}

// --- challenges ---

// CreateChallenge stores a new challenge
func (s *Store) CreateChallenge(_ context.Context, c *domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[c.ID] = c.Clone()
	return nil
}

// GetChallenge returns a copy of a challenge
func (s *Store) GetChallenge(_ context.Context, challengeID string) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[challengeID]
	if !ok {
		return nil, domain.ErrChallengeNotFound
	}
	return c.Clone(), nil
}

// UpdateChallenge applies fn to a private copy and commits it only on success
func (s *Store) UpdateChallenge(_ context.Context, challengeID string, fn func(c *domain.Challenge) error) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[challengeID]
	if !ok {
		return nil, domain.ErrChallengeNotFound
	}
	work := c.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	if work.Decided(c.Status) {
		if err := s.recordResult(work); err != nil {
			return nil, err
		}
	}
	s.challenges[challengeID] = work
	return work.Clone(), nil
}

// ListChallenges returns the account's challenges, newest first
func (s *Store) ListChallenges(_ context.Context, accountID string) ([]domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Challenge
	for _, c := range s.challenges {
		if c.IsParticipant(accountID) {
			out = append(out, *c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- auctions ---

// CreateAuction stores a new auction
func (s *Store) CreateAuction(_ context.Context, a *domain.SkillAuction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[a.ID] = a.Clone()
	return nil
}

// GetAuction returns a copy of an auction
func (s *Store) GetAuction(_ context.Context, auctionID string) (*domain.SkillAuction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	return a.Clone(), nil
}

// GetActiveAuction returns the single active auction
func (s *Store) GetActiveAuction(_ context.Context) (*domain.SkillAuction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.auctions {
		if a.Status == domain.AuctionActive {
			return a.Clone(), nil
		}
	}
	return nil, domain.ErrAuctionNotFound
}

// ListAuctions returns auctions in a status, oldest first
func (s *Store) ListAuctions(_ context.Context, status domain.AuctionStatus) ([]domain.SkillAuction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SkillAuction
	for _, a := range s.auctions {
		if a.Status == status {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListExpired returns active auctions past their end time
func (s *Store) ListExpired(_ context.Context, now time.Time) ([]domain.SkillAuction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SkillAuction
	for _, a := range s.auctions {
		if a.Status == domain.AuctionActive && a.EndAt != nil && !now.Before(*a.EndAt) {
			out = append(out, *a.Clone())
		}
	}
	return out, nil
}

// ListBids returns an auction's accepted bids in acceptance order
func (s *Store) ListBids(_ context.Context, auctionID string) ([]domain.SkillBid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SkillBid(nil), s.bids[auctionID]...), nil
}

// WithAuction runs fn against staged changes and applies them if fn succeeds
func (s *Store) WithAuction(ctx context.Context, auctionID string, fn func(tx auction.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[auctionID]
	if !ok {
		return domain.ErrAuctionNotFound
	}
	tx := &auctionTx{
		store:   s,
		auction: a.Clone(),
		gold:    make(map[string]int64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// auctionTx stages every write until commit
type auctionTx struct {
	store   *Store
	auction *domain.SkillAuction
	saved   *domain.SkillAuction
	bids    []domain.SkillBid
	gold    map[string]int64
	grants  []domain.PlayerSkill
}

func (t *auctionTx) Auction() *domain.SkillAuction { return t.auction }

func (t *auctionTx) SaveAuction(context.Context) error {
	t.saved = t.auction.Clone()
	return nil
}

func (t *auctionTx) HighestBid(context.Context) (*domain.SkillBid, error) {
	if n := len(t.bids); n > 0 {
		b := t.bids[n-1]
		return &b, nil
	}
	committed := t.store.bids[t.auction.ID]
	if n := len(committed); n > 0 {
		b := committed[n-1]
		return &b, nil
	}
	return nil, nil
}

func (t *auctionTx) InsertBid(_ context.Context, bid *domain.SkillBid) error {
	t.bids = append(t.bids, *bid)
	return nil
}

func (t *auctionTx) OtherActive(context.Context) (bool, error) {
	for id, a := range t.store.auctions {
		if id != t.auction.ID && a.Status == domain.AuctionActive {
			return true, nil
		}
	}
	return false, nil
}

func (t *auctionTx) AdjustGold(_ context.Context, accountID string, delta int64) (int64, error) {
	a, ok := t.store.accounts[accountID]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	next := a.Gold + t.gold[accountID] + delta
	if next < 0 {
		return 0, domain.ErrInsufficientFunds
	}
	t.gold[accountID] += delta
	return next, nil
}

func (t *auctionTx) GrantSkill(_ context.Context, grant *domain.PlayerSkill) error {
	if _, ok := t.store.accounts[grant.AccountID]; !ok {
		return domain.ErrAccountNotFound
	}
	t.grants = append(t.grants, *grant)
	return nil
}

func (t *auctionTx) commit() {
	s := t.store
	if t.saved != nil {
		s.auctions[t.saved.ID] = t.saved
	}
	s.bids[t.auction.ID] = append(s.bids[t.auction.ID], t.bids...)
	for id, delta := range t.gold {
		if delta != 0 {
			s.adjustGoldLocked(id, delta)
		}
	}
	for _, g := range t.grants {
		s.grantLocked(g)
	}
}

// --- activity ---

// RecordEvents appends events to the in-memory audit log. Events whose id
// is already stored are skipped, so redelivered batches are harmless.
func (s *Store) RecordEvents(_ context.Context, events []domain.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if _, seen := s.eventIDs[e.ID]; seen {
			continue
		}
		s.eventIDs[e.ID] = struct{}{}
		s.events = append(s.events, e)
	}
	return nil
}

// Events returns a copy of the audit log
func (s *Store) Events() []domain.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ActivityEvent(nil), s.events...)
}

// ListEvents returns the most recent events of a topic, newest first
func (s *Store) ListEvents(_ context.Context, topic string, limit int) ([]domain.ActivityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ActivityEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if s.events[i].Topic == topic {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}
