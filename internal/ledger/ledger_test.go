package ledger_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/legends-of-valor/internal/catalog"
	"github.com/legends-of-valor/internal/domain"
	"github.com/legends-of-valor/internal/ledger"
	"github.com/legends-of-valor/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, accounts ...*domain.Account) (*ledger.Service, *memory.Store) {
	t.Helper()
	cat, err := catalog.New([]domain.Item{
		{ID: "iron-sword", Name: "Iron Sword", Bonus: domain.Stats{Strength: 4}},
		{ID: "oak-shield", Name: "Oak Shield", Bonus: domain.Stats{Defense: 3, Speed: -1}},
	}, nil)
	require.NoError(t, err)

	store := memory.NewStore()
	for _, a := range accounts {
		require.NoError(t, store.PutAccount(context.Background(), a))
	}
	return ledger.NewService(store, cat, slog.New(slog.NewJSONHandler(io.Discard, nil))), store
}

func TestEffectiveStats(t *testing.T) {
	svc, _ := newService(t,
		&domain.Account{ID: "a", BaseStats: domain.Stats{Strength: 10, Speed: 5}, EquippedItems: []string{"iron-sword", "oak-shield"}},
		&domain.Account{ID: "b", EquippedItems: []string{"ghost-blade"}},
	)
	ctx := context.Background()

	stats, err := svc.EffectiveStats(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{Strength: 14, Defense: 3, Speed: 4}, stats)

	view, err := svc.GetAccountView(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, stats, view.EffectiveStats)

	_, err = svc.EffectiveStats(ctx, "b")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	_, err = svc.EffectiveStats(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAdjustGold(t *testing.T) {
	tests := []struct {
		name    string
		delta   int64
		want    int64
		wantErr error
	}{
		{name: "credit", delta: 50, want: 150},
		{name: "debit", delta: -40, want: 60},
		{name: "debit to zero", delta: -100, want: 0},
		{name: "overdraw", delta: -101, wantErr: domain.ErrInsufficientFunds},
		{name: "zero delta", delta: 0, wantErr: domain.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newService(t, &domain.Account{ID: "a", Gold: 100})
			got, err := svc.AdjustGold(context.Background(), "a", tt.delta)
			acct, gerr := store.GetAccount(context.Background(), "a")
			require.NoError(t, gerr)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, int64(100), acct.Gold)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, acct.Gold)
		})
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, store := newService(t, &domain.Account{ID: "a", Gold: 1000})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AdjustGold(ctx, "a", -30); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	acct, err := store.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 33, succeeded)
	assert.Equal(t, int64(10), acct.Gold)
}

func TestEquipSkillKeepsSingleActive(t *testing.T) {
	svc, store := newService(t, &domain.Account{ID: "a"})
	ctx := context.Background()

	for _, id := range []string{"ps-1", "ps-2"} {
		require.NoError(t, store.GrantSkill(ctx, &domain.PlayerSkill{ID: id, AccountID: "a", SkillID: id, Source: domain.SkillSourceAdmin}))
	}

	require.NoError(t, svc.EquipSkill(ctx, "a", "ps-1"))
	require.NoError(t, svc.EquipSkill(ctx, "a", "ps-2"))

	skills, err := svc.ListSkills(ctx, "a")
	require.NoError(t, err)
	require.Len(t, skills, 2)
	equipped := 0
	for _, s := range skills {
		if s.IsEquipped {
			equipped++
			assert.Equal(t, "ps-2", s.ID)
		}
	}
	assert.Equal(t, 1, equipped)

	err = svc.EquipSkill(ctx, "a", "ps-9")
	assert.ErrorIs(t, err, domain.ErrSkillNotFound)

	_, err = svc.ListSkills(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}
