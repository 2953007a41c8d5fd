package main

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlayerName(t *testing.T) {
	assert.Equal(t, "Phoenix1", playerName(0))
	assert.Equal(t, "Rebel1", playerName(len(playerPrefixes)-1))
	assert.Equal(t, "Phoenix2", playerName(len(playerPrefixes)))
}

func TestSeedAccounts(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	accounts := seedAccounts(25, 500, 20, rand.New(rand.NewPCG(1, 0)), now)

	assert.Len(t, accounts, 25)
	seen := map[string]bool{}
	for _, a := range accounts {
		assert.False(t, seen[a.ID], "duplicate id %s", a.ID)
		seen[a.ID] = true
		assert.Equal(t, int64(500), a.Gold)
		s := a.BaseStats
		assert.Equal(t, 20, s.Strength+s.Defense+s.Speed+s.Intelligence)
	}

	again := seedAccounts(25, 500, 20, rand.New(rand.NewPCG(1, 0)), now)
	assert.Equal(t, accounts, again)
}
