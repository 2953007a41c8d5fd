package main

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/legends-of-valor/internal/domain"
	"github.com/urfave/cli/v2"
)

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Nova", "Raven", "Knight", "Luna", "Mystic", "Orion", "Rebel",
}

func playerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

// seedAccounts builds n starter accounts. statPoints are spread randomly
// over the four stats so seeded duels are not all mirror matches.
func seedAccounts(n int, gold int64, statPoints int, rng *rand.Rand, now time.Time) []*domain.Account {
	out := make([]*domain.Account, 0, n)
	for i := 0; i < n; i++ {
		name := playerName(i)
		var s [4]int
		for p := 0; p < statPoints; p++ {
			s[rng.IntN(4)]++
		}
		out = append(out, &domain.Account{
			ID:        strings.ToLower(name),
			Username:  name,
			Gold:      gold,
			Rank:      "novice",
			BaseStats: domain.Stats{Strength: s[0], Defense: s[1], Speed: s[2], Intelligence: s[3]},
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return out
}

func newSeedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "create starter accounts",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "players", Value: 10, Usage: "number of accounts"},
			&cli.Int64Flag{Name: "gold", Value: 1000, Usage: "starting gold"},
			&cli.IntFlag{Name: "stat-points", Value: 20, Usage: "stat points per account"},
			&cli.Uint64Flag{Name: "seed", Value: 1, Usage: "random seed for stat allocation"},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			rng := rand.New(rand.NewPCG(c.Uint64("seed"), 0))
			accounts := seedAccounts(c.Int("players"), c.Int64("gold"), c.Int("stat-points"), rng, time.Now().UTC())
			for _, a := range accounts {
				if err := e.repo.PutAccount(c.Context, a); err != nil {
					return fmt.Errorf("seeding %s: %w", a.ID, err)
				}
			}
			fmt.Printf("seeded %d accounts\n", len(accounts))
			return nil
		}),
	}
}
