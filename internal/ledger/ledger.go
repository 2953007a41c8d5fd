// Package ledger is the account ledger shared by the combat and auction
// engines and by ordinary shop flows.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/legends-of-valor/internal/catalog"
	"github.com/legends-of-valor/internal/domain"
)

// Store persists account balances, records and skill grants
type Store interface {
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	// AdjustGold applies delta as one atomic conditional update and returns
	// the new balance. A debit that would go below zero fails with
	// domain.ErrInsufficientFunds and changes nothing.
	AdjustGold(ctx context.Context, accountID string, delta int64) (int64, error)
	ListPlayerSkills(ctx context.Context, accountID string) ([]domain.PlayerSkill, error)
	// EquipSkill marks one grant equipped and clears every other grant of the account.
	EquipSkill(ctx context.Context, accountID, playerSkillID string) error
	// GrantSkill records a grant; an equipped grant clears the others
	GrantSkill(ctx context.Context, grant *domain.PlayerSkill) error
}

// Service resolves ledger reads against the static catalog
type Service struct {
	store   Store
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// NewService creates a new ledger service
func NewService(store Store, cat *catalog.Catalog, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		catalog: cat,
		logger:  logger,
	}
}

// GetAccount returns an account row
func (s *Service) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

// GetAccountView returns an account with its effective stats
func (s *Service) GetAccountView(ctx context.Context, accountID string) (*domain.AccountView, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	stats, err := s.effective(acct)
	if err != nil {
		return nil, err
	}
	return &domain.AccountView{Account: *acct, EffectiveStats: stats}, nil
}

// EffectiveStats returns base stats plus equipped item bonuses
func (s *Service) EffectiveStats(ctx context.Context, accountID string) (domain.Stats, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return domain.Stats{}, err
	}
	return s.effective(acct)
}

func (s *Service) effective(acct *domain.Account) (domain.Stats, error) {
	bonus, err := s.catalog.BonusFor(acct.EquippedItems)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("resolving equipment of %s: %w", acct.ID, err)
	}
	return acct.BaseStats.Add(bonus), nil
}

// AdjustGold credits or debits an account atomically
func (s *Service) AdjustGold(ctx context.Context, accountID string, delta int64) (int64, error) {
	if delta == 0 {
		return 0, domain.ErrInvalidRequest
	}
	balance, err := s.store.AdjustGold(ctx, accountID, delta)
	if err != nil {
		return 0, err
	}
	s.logger.Debug("gold adjusted", "account_id", accountID, "delta", delta, "balance", balance)
	return balance, nil
}

// ListSkills returns every skill granted to the account
func (s *Service) ListSkills(ctx context.Context, accountID string) ([]domain.PlayerSkill, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListPlayerSkills(ctx, accountID)
}

// EquipSkill makes one granted skill the account's single active skill
func (s *Service) EquipSkill(ctx context.Context, accountID, playerSkillID string) error {
	if err := s.store.EquipSkill(ctx, accountID, playerSkillID); err != nil {
		return fmt.Errorf("equipping skill: %w", err)
	}
	return nil
}

// GrantSkill gives a catalog skill to an account outside of an auction
func (s *Service) GrantSkill(ctx context.Context, accountID, skillID string, source domain.SkillSource) (*domain.PlayerSkill, error) {
	if _, err := s.catalog.GetSkill(skillID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	grant := &domain.PlayerSkill{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		SkillID:    skillID,
		AcquiredAt: time.Now(),
		Source:     source,
	}
	if err := s.store.GrantSkill(ctx, grant); err != nil {
		return nil, fmt.Errorf("granting skill: %w", err)
	}
	s.logger.Info("skill granted", "account_id", accountID, "skill_id", skillID, "source", source)
	return grant, nil
}
