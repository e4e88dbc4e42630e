package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/azure/mentions-autoreply-bot/internal/store"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "seed-rules",
		Usage: "load auto-reply rules from a JSON file into the database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Usage:   "path of the SQLite database",
				Value:   "mentions.db",
				EnvVars: []string{"DATABASE_PATH"},
			},
			&cli.StringFlag{
				Name:     "file",
				Usage:    "JSON file holding an array of rules",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "deactivate-missing",
				Usage: "deactivate stored rules that are not in the file",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func run(cctx *cli.Context) error {
	ctx := context.Background()

	data, err := os.ReadFile(cctx.String("file"))
	if err != nil {
		return fmt.Errorf("failed to read rules file: %w", err)
	}
	var rules []models.AutoReplyRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("failed to parse rules file: %w", err)
	}

	st, err := store.NewSQLiteStore(cctx.String("db"))
	if err != nil {
		return err
	}
	defer st.Close()

	seeded := make(map[string]bool, len(rules))
	for i := range rules {
		if err := st.SaveRule(ctx, &rules[i]); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		seeded[rules[i].ID] = true
		fmt.Printf("✅ %-20s priority=%d active=%t\n", rules[i].ID, rules[i].Priority, rules[i].IsActive)
	}

	if cctx.Bool("deactivate-missing") {
		existing, err := st.ListRules(ctx)
		if err != nil {
			return err
		}
		for i := range existing {
			r := existing[i]
			if seeded[r.ID] || !r.IsActive {
				continue
			}
			r.IsActive = false
			if err := st.SaveRule(ctx, &r); err != nil {
				return fmt.Errorf("failed to deactivate %s: %w", r.ID, err)
			}
			fmt.Printf("⏸️  %-20s deactivated\n", r.ID)
		}
	}

	fmt.Printf("Seeded %d rules into %s\n", len(rules), cctx.String("db"))
	return nil
}
