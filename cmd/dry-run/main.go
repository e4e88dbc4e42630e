package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/azure/mentions-autoreply-bot/internal/priority"
	"github.com/azure/mentions-autoreply-bot/internal/rules"
	"github.com/azure/mentions-autoreply-bot/internal/sentiment"
	"github.com/azure/mentions-autoreply-bot/internal/store"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// evaluation is the printed result for one rule
type evaluation struct {
	RuleID   string           `json:"rule_id"`
	Priority int              `json:"priority"`
	Result   rules.TestResult `json:"result"`
}

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:      "dry-run",
		Usage:     "test auto-reply rules against text without sending or throttling",
		ArgsUsage: "<mention text>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Usage:   "path of the SQLite database holding the rules",
				Value:   "mentions.db",
				EnvVars: []string{"DATABASE_PATH"},
			},
			&cli.StringFlag{
				Name:  "rule",
				Usage: "only test the rule with this id",
			},
			&cli.StringFlag{
				Name:  "author",
				Usage: "author handle used when rendering responses",
				Value: "someone",
			},
			&cli.Int64Flag{
				Name:  "audience",
				Usage: "follower count of the author",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func run(cctx *cli.Context) error {
	text := cctx.Args().First()
	if text == "" {
		return cli.Exit("mention text is required", 2)
	}

	st, err := store.NewSQLiteStore(cctx.String("db"))
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	var candidates []models.AutoReplyRule
	if id := cctx.String("rule"); id != "" {
		rule, err := st.GetRule(ctx, id)
		if err != nil {
			return err
		}
		candidates = append(candidates, *rule)
	} else if candidates, err = st.ListActiveRules(ctx); err != nil {
		return err
	}

	m := &models.Mention{
		ID:           "dry-run",
		AuthorHandle: cctx.String("author"),
		Text:         text,
		AudienceSize: cctx.Int64("audience"),
	}
	m.Sentiment = sentiment.NewClassifier().Classify(text)
	m.PriorityScore, m.PriorityLevel = priority.NewScorer(0).Score(m)

	fmt.Printf("💭 Sentiment: %s | ⭐ Priority: %s (%.2f)\n", m.Sentiment, m.PriorityLevel, m.PriorityScore)

	var results []evaluation
	for _, rule := range candidates {
		results = append(results, evaluation{
			RuleID:   rule.ID,
			Priority: rule.Priority,
			Result:   rules.DryRun(rule, text, m.Sentiment, m),
		})
	}

	// the rule live processing would dispatch
	if best := rules.Match(text, m.Sentiment, candidates); len(best) > 0 {
		fmt.Printf("🎯 Would dispatch: %s\n", best[0].Rule.ID)
	} else {
		fmt.Println("🎯 Would dispatch: nothing (no_match)")
	}

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
