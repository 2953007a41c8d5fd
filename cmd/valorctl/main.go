package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/legends-of-valor/internal/auction"
	"github.com/legends-of-valor/internal/catalog"
	"github.com/legends-of-valor/internal/config"
	"github.com/legends-of-valor/internal/domain"
	"github.com/legends-of-valor/internal/ledger"
	"github.com/legends-of-valor/internal/postgres"
	"github.com/legends-of-valor/internal/worker"
	"github.com/urfave/cli/v2"
)

// env is the set of services a command runs against
type env struct {
	cfg     *config.Config
	repo    *postgres.Repository
	catalog *catalog.Catalog
	ledger  *ledger.Service
	auction *auction.Engine
	logger  *slog.Logger
}

func main() {
	cliApp := &cli.App{
		Name:  "valorctl",
		Usage: "administer a Legends of Valor deployment",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to the configuration file",
				EnvVars: []string{"VALOR_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "create or update the database schema",
				Action: withEnv(func(c *cli.Context, e *env) error {
					if err := e.repo.RunMigrations(c.Context); err != nil {
						return err
					}
					fmt.Println("migrations applied")
					return nil
				}),
			},
			newSeedCommand(),
			{
				Name:  "auction",
				Usage: "skill auction administration",
				Subcommands: []*cli.Command{
					{
						Name:      "queue",
						Usage:     "queue an auction for a catalog skill",
						ArgsUsage: "<skill-id>",
						Action: withEnv(func(c *cli.Context, e *env) error {
							if c.NArg() != 1 {
								return cli.Exit("expected exactly one skill id", 2)
							}
							a, err := e.auction.Queue(c.Context, c.Args().First())
							if err != nil {
								return err
							}
							fmt.Printf("queued auction %s for %s\n", a.ID, a.SkillID)
							return nil
						}),
					},
					{
						Name:  "settle-due",
						Usage: "settle expired auctions and open the next queued one",
						Action: withEnv(func(c *cli.Context, e *env) error {
							w := worker.NewAuctionWorker(e.auction, &e.cfg.Scheduler, e.logger)
							w.RunOnce(c.Context)
							return nil
						}),
					},
					{
						Name:  "list",
						Usage: "list queued auctions",
						Action: withEnv(func(c *cli.Context, e *env) error {
							queued, err := e.auction.Queued(c.Context)
							if err != nil {
								return err
							}
							for _, a := range queued {
								fmt.Printf("%s\t%s\t%s\n", a.ID, a.SkillID, a.CreatedAt.Format("2006-01-02 15:04:05"))
							}
							return nil
						}),
					},
				},
			},
			{
				Name:  "gold",
				Usage: "credit or debit an account's gold",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "account", Required: true},
					&cli.Int64Flag{Name: "delta", Required: true},
				},
				Action: withEnv(func(c *cli.Context, e *env) error {
					gold, err := e.ledger.AdjustGold(c.Context, c.String("account"), c.Int64("delta"))
					if err != nil {
						return err
					}
					fmt.Printf("%s now has %d gold\n", c.String("account"), gold)
					return nil
				}),
			},
			{
				Name:  "grant-skill",
				Usage: "grant a catalog skill to an account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "account", Required: true},
					&cli.StringFlag{Name: "skill", Required: true},
				},
				Action: withEnv(func(c *cli.Context, e *env) error {
					ps, err := e.ledger.GrantSkill(c.Context, c.String("account"), c.String("skill"), domain.SkillSourceAdmin)
					if err != nil {
						return err
					}
					fmt.Printf("granted %s to %s (%s)\n", ps.SkillID, ps.AccountID, ps.ID)
					return nil
				}),
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withEnv opens the database and catalog for the duration of one command
func withEnv(fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return err
		}
		logger := (&config.LogConfig{Level: "warn", Format: "text"}).NewLogger(os.Stderr)
		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("loading catalog: %w", err)
		}
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			return fmt.Errorf("connecting to PostgreSQL: %w", err)
		}
		defer repo.Close()

		ledgerSvc := ledger.NewService(repo, cat, logger)
		e := &env{
			cfg:     cfg,
			repo:    repo,
			catalog: cat,
			ledger:  ledgerSvc,
			auction: auction.NewEngine(repo, ledgerSvc, cat, &cfg.Auction, logger),
			logger:  logger,
		}
		return fn(c, e)
	}
}
