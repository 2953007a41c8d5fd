package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/legends-of-valor/internal/auction"
	"github.com/legends-of-valor/internal/domain"
)

const auctionColumns = `id, skill_id, status, start_at, end_at, winning_bid_id, winner_id, version, created_at`

func scanAuction(row pgx.Row) (*domain.SkillAuction, error) {
	var a domain.SkillAuction
	err := row.Scan(
		&a.ID,
		&a.SkillID,
		&a.Status,
		&a.StartAt,
		&a.EndAt,
		&a.WinningBidID,
		&a.WinnerID,
		&a.Version,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repository) queryAuctions(ctx context.Context, query string, args ...any) ([]domain.SkillAuction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing auctions: %w", err)
	}
	defer rows.Close()

	var auctions []domain.SkillAuction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning auction: %w", err)
		}
		auctions = append(auctions, *a)
	}
	return auctions, rows.Err()
}

// CreateAuction inserts a new auction
func (r *Repository) CreateAuction(ctx context.Context, a *domain.SkillAuction) error {
	query := `
		INSERT INTO skill_auctions (` + auctionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		a.ID,
		a.SkillID,
		string(a.Status),
		a.StartAt,
		a.EndAt,
		a.WinningBidID,
		a.WinnerID,
		a.Version,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting auction: %w", err)
	}
	return nil
}

// GetAuction retrieves an auction by ID
func (r *Repository) GetAuction(ctx context.Context, auctionID string) (*domain.SkillAuction, error) {
	query := `SELECT ` + auctionColumns + ` FROM skill_auctions WHERE id = $1`
	a, err := scanAuction(r.pool.QueryRow(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	return a, nil
}

// GetActiveAuction retrieves the single active auction
func (r *Repository) GetActiveAuction(ctx context.Context) (*domain.SkillAuction, error) {
	query := `SELECT ` + auctionColumns + ` FROM skill_auctions WHERE status = 'active'`
	a, err := scanAuction(r.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("getting active auction: %w", err)
	}
	return a, nil
}

// ListAuctions retrieves auctions in a status, oldest first
func (r *Repository) ListAuctions(ctx context.Context, status domain.AuctionStatus) ([]domain.SkillAuction, error) {
	query := `
		SELECT ` + auctionColumns + `
		FROM skill_auctions
		WHERE status = $1
		ORDER BY created_at, id
	`
	return r.queryAuctions(ctx, query, string(status))
}

// ListExpired retrieves active auctions whose end time has passed
func (r *Repository) ListExpired(ctx context.Context, now time.Time) ([]domain.SkillAuction, error) {
	query := `
		SELECT ` + auctionColumns + `
		FROM skill_auctions
		WHERE status = 'active' AND end_at <= $1
		ORDER BY end_at
	`
	return r.queryAuctions(ctx, query, now)
}

// ListBids retrieves an auction's accepted bids in acceptance order
func (r *Repository) ListBids(ctx context.Context, auctionID string) ([]domain.SkillBid, error) {
	query := `
		SELECT id, auction_id, bidder_id, amount, created_at
		FROM skill_bids
		WHERE auction_id = $1
		ORDER BY seq
	`
	rows, err := r.pool.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	defer rows.Close()

	var bids []domain.SkillBid
	for rows.Next() {
		var b domain.SkillBid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning bid: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// WithAuction runs fn inside a transaction holding the auction row lock.
// Gold adjustments and grants made through the Tx commit with it.
func (r *Repository) WithAuction(ctx context.Context, auctionID string, fn func(tx auction.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + auctionColumns + ` FROM skill_auctions WHERE id = $1 FOR UPDATE`
		a, err := scanAuction(tx.QueryRow(ctx, query, auctionID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrAuctionNotFound
			}
			return fmt.Errorf("locking auction: %w", err)
		}
		return fn(&auctionTx{tx: tx, auction: a})
	})
}

type auctionTx struct {
	tx      pgx.Tx
	auction *domain.SkillAuction
}

func (t *auctionTx) Auction() *domain.SkillAuction { return t.auction }

func (t *auctionTx) SaveAuction(ctx context.Context) error {
	a := t.auction
	query := `
		UPDATE skill_auctions
		SET status = $2, start_at = $3, end_at = $4, winning_bid_id = $5, winner_id = $6, version = $7
		WHERE id = $1
	`
	_, err := t.tx.Exec(ctx, query,
		a.ID,
		string(a.Status),
		a.StartAt,
		a.EndAt,
		a.WinningBidID,
		a.WinnerID,
		a.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// another auction became active concurrently
			return domain.ErrInvalidState
		}
		return fmt.Errorf("updating auction: %w", err)
	}
	return nil
}

func (t *auctionTx) HighestBid(ctx context.Context) (*domain.SkillBid, error) {
	query := `
		SELECT id, auction_id, bidder_id, amount, created_at
		FROM skill_bids
		WHERE auction_id = $1
		ORDER BY amount DESC
		LIMIT 1
	`
	var b domain.SkillBid
	err := t.tx.QueryRow(ctx, query, t.auction.ID).Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting highest bid: %w", err)
	}
	return &b, nil
}

func (t *auctionTx) InsertBid(ctx context.Context, bid *domain.SkillBid) error {
	query := `
		INSERT INTO skill_bids (id, auction_id, bidder_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := t.tx.Exec(ctx, query, bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting bid: %w", err)
	}
	return nil
}

func (t *auctionTx) OtherActive(ctx context.Context) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM skill_auctions WHERE status = 'active' AND id <> $1)`,
		t.auction.ID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking active auctions: %w", err)
	}
	return exists, nil
}

func (t *auctionTx) AdjustGold(ctx context.Context, accountID string, delta int64) (int64, error) {
	return adjustGold(ctx, t.tx, accountID, delta)
}

func (t *auctionTx) GrantSkill(ctx context.Context, grant *domain.PlayerSkill) error {
	return grantSkill(ctx, t.tx, grant)
}
