package handler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// cleanupThreshold is the number of tracked bidders above which stale entries are pruned.
	cleanupThreshold = 10000
	// maxIdleAge is the duration after which an idle bidder entry is eligible for cleanup.
	maxIdleAge = 10 * time.Minute
)

type bidderEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// BidderRateLimiter throttles bids per bidder account
type BidderRateLimiter struct {
	bidders map[string]*bidderEntry
	mu      sync.Mutex
	r       rate.Limit
	b       int
}

// NewBidderRateLimiter creates a new BidderRateLimiter
func NewBidderRateLimiter(r rate.Limit, b int) *BidderRateLimiter {
	return &BidderRateLimiter{
		bidders: make(map[string]*bidderEntry),
		r:       r,
		b:       b,
	}
}

// Allow reports whether the bidder may place another bid now
func (l *BidderRateLimiter) Allow(bidderID string) bool {
	return l.getLimiter(bidderID).Allow()
}

func (l *BidderRateLimiter) getLimiter(bidderID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.bidders) > cleanupThreshold {
		cutoff := time.Now().Add(-maxIdleAge)
		for k, e := range l.bidders {
			if e.lastSeen.Before(cutoff) {
				delete(l.bidders, k)
			}
		}
	}

	e, exists := l.bidders[bidderID]
	if !exists {
		e = &bidderEntry{limiter: rate.NewLimiter(l.r, l.b)}
		l.bidders[bidderID] = e
	}
	e.lastSeen = time.Now()

	return e.limiter
}
