package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/legends-of-valor/internal/domain"
)

const challengeColumns = `id, challenger_id, challenged_id, status, winner_id, combat_state, version, created_at, accepted_at, completed_at`

func scanChallenge(row pgx.Row) (*domain.Challenge, error) {
	var c domain.Challenge
	var state []byte
	err := row.Scan(
		&c.ID,
		&c.ChallengerID,
		&c.ChallengedID,
		&c.Status,
		&c.WinnerID,
		&state,
		&c.Version,
		&c.CreatedAt,
		&c.AcceptedAt,
		&c.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if state != nil {
		c.CombatState = &domain.CombatState{}
		if err := json.Unmarshal(state, c.CombatState); err != nil {
			return nil, fmt.Errorf("decoding combat state of %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func encodeCombatState(cs *domain.CombatState) ([]byte, error) {
	if cs == nil {
		return nil, nil
	}
	data, err := json.Marshal(cs)
	if err != nil {
		return nil, fmt.Errorf("marshaling combat state: %w", err)
	}
	return data, nil
}

// CreateChallenge inserts a new challenge
func (r *Repository) CreateChallenge(ctx context.Context, c *domain.Challenge) error {
	state, err := encodeCombatState(c.CombatState)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO challenges (` + challengeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		c.ID,
		c.ChallengerID,
		c.ChallengedID,
		string(c.Status),
		c.WinnerID,
		state,
		c.Version,
		c.CreatedAt,
		c.AcceptedAt,
		c.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting challenge: %w", err)
	}
	return nil
}

// GetChallenge retrieves a challenge by ID
func (r *Repository) GetChallenge(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id = $1`
	c, err := scanChallenge(r.pool.QueryRow(ctx, query, challengeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("getting challenge: %w", err)
	}
	return c, nil
}

// UpdateChallenge locks the challenge row, applies fn and writes the
// result back in the same transaction. An error from fn rolls back.
func (r *Repository) UpdateChallenge(ctx context.Context, challengeID string, fn func(c *domain.Challenge) error) (*domain.Challenge, error) {
	var updated *domain.Challenge
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id = $1 FOR UPDATE`
		c, err := scanChallenge(tx.QueryRow(ctx, query, challengeID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrChallengeNotFound
			}
			return fmt.Errorf("locking challenge: %w", err)
		}

		prev := c.Status
		if err := fn(c); err != nil {
			return err
		}

		state, err := encodeCombatState(c.CombatState)
		if err != nil {
			return err
		}
		update := `
			UPDATE challenges
			SET status = $2, winner_id = $3, combat_state = $4, version = $5, accepted_at = $6, completed_at = $7
			WHERE id = $1
		`
		_, err = tx.Exec(ctx, update,
			c.ID,
			string(c.Status),
			c.WinnerID,
			state,
			c.Version,
			c.AcceptedAt,
			c.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("updating challenge: %w", err)
		}
		if c.Decided(prev) {
			if err := recordResult(ctx, tx, c); err != nil {
				return err
			}
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// recordResult credits the winner and the loser inside the transaction
// that completes the challenge
func recordResult(ctx context.Context, tx pgx.Tx, c *domain.Challenge) error {
	now := time.Now()
	bumps := []struct {
		query     string
		accountID string
	}{
		{`UPDATE accounts SET wins = wins + 1, updated_at = $2 WHERE id = $1`, *c.WinnerID},
		{`UPDATE accounts SET losses = losses + 1, updated_at = $2 WHERE id = $1`, c.Opponent(*c.WinnerID)},
	}
	for _, b := range bumps {
		result, err := tx.Exec(ctx, b.query, b.accountID, now)
		if err != nil {
			return fmt.Errorf("recording result: %w", err)
		}
		if result.RowsAffected() == 0 {
			return domain.ErrAccountNotFound
		}
	}
	return nil
}

// ListChallenges retrieves every challenge an account takes part in, newest first
func (r *Repository) ListChallenges(ctx context.Context, accountID string) ([]domain.Challenge, error) {
	query := `
		SELECT ` + challengeColumns + `
		FROM challenges
		WHERE challenger_id = $1 OR challenged_id = $1
		ORDER BY created_at DESC
		LIMIT 200
	`
	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing challenges: %w", err)
	}
	defer rows.Close()

	var challenges []domain.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning challenge: %w", err)
		}
		challenges = append(challenges, *c)
	}
	return challenges, rows.Err()
}
