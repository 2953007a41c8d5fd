package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/legends-of-valor/internal/config"
	"github.com/legends-of-valor/internal/domain"
)

// Repository provides PostgreSQL-based data access for the ledger, the
// combat engine and the auction engine
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			gold BIGINT NOT NULL DEFAULT 0 CHECK (gold >= 0),
			training_points BIGINT NOT NULL DEFAULT 0,
			rank VARCHAR(32) NOT NULL DEFAULT 'novice',
			wins INT NOT NULL DEFAULT 0,
			losses INT NOT NULL DEFAULT 0,
			str INT NOT NULL DEFAULT 0,
			def INT NOT NULL DEFAULT 0,
			spd INT NOT NULL DEFAULT 0,
			intel INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS account_items (
			account_id VARCHAR(64) NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			item_id VARCHAR(64) NOT NULL,
			PRIMARY KEY (account_id, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS player_skills (
			id VARCHAR(64) PRIMARY KEY,
			account_id VARCHAR(64) NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			skill_id VARCHAR(64) NOT NULL,
			is_equipped BOOLEAN NOT NULL DEFAULT FALSE,
			source VARCHAR(16) NOT NULL,
			acquired_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS challenges (
			id VARCHAR(64) PRIMARY KEY,
			challenger_id VARCHAR(64) NOT NULL REFERENCES accounts(id),
			challenged_id VARCHAR(64) NOT NULL REFERENCES accounts(id),
			status VARCHAR(16) NOT NULL,
			winner_id VARCHAR(64),
			combat_state JSONB,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL,
			accepted_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS skill_auctions (
			id VARCHAR(64) PRIMARY KEY,
			skill_id VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			start_at TIMESTAMPTZ,
			end_at TIMESTAMPTZ,
			winning_bid_id VARCHAR(64),
			winner_id VARCHAR(64),
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL,
			CHECK (end_at IS NULL OR start_at IS NULL OR end_at > start_at)
		)`,
		`CREATE TABLE IF NOT EXISTS skill_bids (
			seq BIGSERIAL PRIMARY KEY,
			id VARCHAR(64) NOT NULL UNIQUE,
			auction_id VARCHAR(64) NOT NULL REFERENCES skill_auctions(id) ON DELETE CASCADE,
			bidder_id VARCHAR(64) NOT NULL REFERENCES accounts(id),
			amount BIGINT NOT NULL CHECK (amount > 0),
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS activity_events (
			id VARCHAR(64) PRIMARY KEY,
			event_type VARCHAR(32) NOT NULL,
			topic VARCHAR(128) NOT NULL,
			account_id VARCHAR(64),
			data JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_player_skills_equipped ON player_skills(account_id) WHERE is_equipped`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_skill_auctions_single_active ON skill_auctions(status) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_skill_auctions_status ON skill_auctions(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_skill_bids_auction ON skill_bids(auction_id, amount DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_challenges_challenger ON challenges(challenger_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_challenges_challenged ON challenges(challenged_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_events_topic ON activity_events(topic, created_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

const accountColumns = `
	a.id, a.username, a.gold, a.training_points, a.rank, a.wins, a.losses,
	a.str, a.def, a.spd, a.intel, a.created_at, a.updated_at,
	COALESCE(array_agg(ai.item_id ORDER BY ai.item_id) FILTER (WHERE ai.item_id IS NOT NULL), '{}')
`

// GetAccount retrieves an account with its equipped items
func (r *Repository) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts a
		LEFT JOIN account_items ai ON ai.account_id = a.id
		WHERE a.id = $1
		GROUP BY a.id
	`
	var a domain.Account
	err := r.pool.QueryRow(ctx, query, accountID).Scan(
		&a.ID,
		&a.Username,
		&a.Gold,
		&a.TrainingPoints,
		&a.Rank,
		&a.Wins,
		&a.Losses,
		&a.BaseStats.Strength,
		&a.BaseStats.Defense,
		&a.BaseStats.Speed,
		&a.BaseStats.Intelligence,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.EquippedItems,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return &a, nil
}

// PutAccount inserts or replaces an account and its equipped items
func (r *Repository) PutAccount(ctx context.Context, a *domain.Account) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
			INSERT INTO accounts (id, username, gold, training_points, rank, wins, losses, str, def, spd, intel, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
			ON CONFLICT (id)
			DO UPDATE SET username = $2, gold = $3, training_points = $4, rank = $5, wins = $6, losses = $7,
				str = $8, def = $9, spd = $10, intel = $11, updated_at = $12
		`
		now := time.Now()
		_, err := tx.Exec(ctx, query,
			a.ID,
			a.Username,
			a.Gold,
			a.TrainingPoints,
			a.Rank,
			a.Wins,
			a.Losses,
			a.BaseStats.Strength,
			a.BaseStats.Defense,
			a.BaseStats.Speed,
			a.BaseStats.Intelligence,
			now,
		)
		if err != nil {
			return fmt.Errorf("upserting account: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM account_items WHERE account_id = $1`, a.ID); err != nil {
			return fmt.Errorf("clearing account items: %w", err)
		}
		for _, itemID := range a.EquippedItems {
			_, err := tx.Exec(ctx, `INSERT INTO account_items (account_id, item_id) VALUES ($1, $2)`, a.ID, itemID)
			if err != nil {
				return fmt.Errorf("equipping item %s: %w", itemID, err)
			}
		}
		return nil
	})
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AdjustGold applies delta in one conditional update
func (r *Repository) AdjustGold(ctx context.Context, accountID string, delta int64) (int64, error) {
	return adjustGold(ctx, r.pool, accountID, delta)
}

func adjustGold(ctx context.Context, q querier, accountID string, delta int64) (int64, error) {
	query := `
		UPDATE accounts
		SET gold = gold + $2, updated_at = $3
		WHERE id = $1 AND gold + $2 >= 0
		RETURNING gold
	`
	var balance int64
	err := q.QueryRow(ctx, query, accountID, delta, time.Now()).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("adjusting gold: %w", err)
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("checking account existence: %w", err)
	}
	if !exists {
		return 0, domain.ErrAccountNotFound
	}
	return 0, domain.ErrInsufficientFunds
}

// ListPlayerSkills retrieves an account's skill grants, oldest first
func (r *Repository) ListPlayerSkills(ctx context.Context, accountID string) ([]domain.PlayerSkill, error) {
	query := `
		SELECT id, account_id, skill_id, is_equipped, acquired_at, source
		FROM player_skills
		WHERE account_id = $1
		ORDER BY acquired_at, id
	`
	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing player skills: %w", err)
	}
	defer rows.Close()

	var skills []domain.PlayerSkill
	for rows.Next() {
		var ps domain.PlayerSkill
		if err := rows.Scan(&ps.ID, &ps.AccountID, &ps.SkillID, &ps.IsEquipped, &ps.AcquiredAt, &ps.Source); err != nil {
			return nil, fmt.Errorf("scanning player skill: %w", err)
		}
		skills = append(skills, ps)
	}
	return skills, rows.Err()
}

// EquipSkill equips one grant and clears every other grant of the account
func (r *Repository) EquipSkill(ctx context.Context, accountID, playerSkillID string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockAccount(ctx, tx, accountID); err != nil {
			return err
		}
		var found bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM player_skills WHERE id = $1 AND account_id = $2)`,
			playerSkillID, accountID,
		).Scan(&found)
		if err != nil {
			return fmt.Errorf("checking player skill: %w", err)
		}
		if !found {
			return domain.ErrSkillNotFound
		}
		if _, err := tx.Exec(ctx, `UPDATE player_skills SET is_equipped = FALSE WHERE account_id = $1 AND is_equipped`, accountID); err != nil {
			return fmt.Errorf("unequipping skills: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE player_skills SET is_equipped = TRUE WHERE id = $1`, playerSkillID); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return domain.ErrInvalidState
			}
			return fmt.Errorf("equipping skill: %w", err)
		}
		return nil
	})
}

// lockAccount takes the account row lock that serializes changes to which
// of its skills is equipped
func lockAccount(ctx context.Context, q querier, accountID string) error {
	var id string
	err := q.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrAccountNotFound
		}
		return fmt.Errorf("locking account: %w", err)
	}
	return nil
}

// GrantSkill records a skill grant outside of an auction
func (r *Repository) GrantSkill(ctx context.Context, grant *domain.PlayerSkill) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return grantSkill(ctx, tx, grant)
	})
}

func grantSkill(ctx context.Context, q querier, grant *domain.PlayerSkill) error {
	if grant.IsEquipped {
		if err := lockAccount(ctx, q, grant.AccountID); err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `UPDATE player_skills SET is_equipped = FALSE WHERE account_id = $1 AND is_equipped`, grant.AccountID); err != nil {
			return fmt.Errorf("unequipping skills: %w", err)
		}
	}
	query := `
		INSERT INTO player_skills (id, account_id, skill_id, is_equipped, source, acquired_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := q.Exec(ctx, query,
		grant.ID,
		grant.AccountID,
		grant.SkillID,
		grant.IsEquipped,
		string(grant.Source),
		grant.AcquiredAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return domain.ErrAccountNotFound
		}
		return fmt.Errorf("inserting player skill: %w", err)
	}
	return nil
}

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)
