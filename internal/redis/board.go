package redis

import (
	"context"
	"fmt"

	"github.com/legends-of-valor/internal/domain"
	"github.com/redis/go-redis/v9"
)

// boardKey returns the Redis key for an auction's bidder board
func boardKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:board", auctionID)
}

// RecordBid raises a bidder's board entry to amount. Entries never go down.
func (c *Cache) RecordBid(ctx context.Context, auctionID, bidderID string, amount int64) error {
	err := c.client.ZAddGT(ctx, boardKey(auctionID), redis.Z{
		Score:  float64(amount),
		Member: bidderID,
	}).Err()
	if err != nil {
		return fmt.Errorf("recording bid: %w", err)
	}
	return nil
}

// Standings returns the top n bidders by their highest bid
func (c *Cache) Standings(ctx context.Context, auctionID string, n int) ([]domain.BidderStanding, error) {
	results, err := c.client.ZRevRangeWithScores(ctx, boardKey(auctionID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting standings: %w", err)
	}

	standings := make([]domain.BidderStanding, len(results))
	for i, result := range results {
		standings[i] = domain.BidderStanding{
			Rank:     int64(i + 1),
			BidderID: result.Member.(string),
			Amount:   int64(result.Score),
		}
	}
	return standings, nil
}

// RebuildBoard replaces an auction's board with the given bid history
func (c *Cache) RebuildBoard(ctx context.Context, auctionID string, bids []domain.SkillBid) error {
	key := boardKey(auctionID)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	for _, b := range bids {
		pipe.ZAddGT(ctx, key, redis.Z{
			Score:  float64(b.Amount),
			Member: b.BidderID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuilding board: %w", err)
	}
	return nil
}
