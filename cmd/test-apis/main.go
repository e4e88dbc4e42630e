package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/config"
	"github.com/azure/mentions-autoreply-bot/internal/sources"
	"github.com/azure/mentions-autoreply-bot/internal/store"
	"github.com/azure/mentions-autoreply-bot/internal/throttle"
	"github.com/joho/godotenv"
)

func main() {
	fmt.Println("🔍 Mentions Auto-Reply Bot - Connectivity Test")
	fmt.Println("==============================================")

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("\n📡 Testing mention sources...")
	fmt.Println(strings.Repeat("-", 40))
	testSource(ctx, "Twitter/X", sources.NewTwitterSource(cfg.TwitterAPIBaseURL, cfg.TwitterBearerToken, cfg.TwitterUserID))

	fmt.Println("\n🗄️  Testing persistence...")
	fmt.Println(strings.Repeat("-", 40))
	testDatabase(ctx, cfg.DatabasePath)
	if cfg.ThrottleBackend == "redis" {
		testRedis(cfg.RedisURL)
	} else {
		fmt.Println("🔸 Throttle store: in-memory (set THROTTLE_BACKEND=redis to share limits)")
	}

	fmt.Println("\n✅ Connectivity test completed!")
	fmt.Println("\n💡 Next steps:")
	fmt.Println("   • Seed rules with: go run ./cmd/seed-rules --file rules.json")
	fmt.Println("   • Try them with: go run ./cmd/dry-run \"some mention text\"")
	fmt.Println("   • Run the bot with DRY_RUN=true before enabling replies")
}

func testSource(ctx context.Context, name string, source sources.Source) {
	fmt.Printf("🔸 Testing %s... ", name)

	if !source.IsEnabled() {
		fmt.Printf("⚠️  DISABLED (missing bearer token or user id)\n")
		return
	}

	mentions, err := source.FetchMentions(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return
	}

	fmt.Printf("✅ SUCCESS (%d mentions found)\n", len(mentions))

	// Show sample mentions
	if len(mentions) > 0 {
		fmt.Printf("   📝 Sample: @%s \"%s\"\n", mentions[0].AuthorHandle, mentions[0].Text)
	}
}

func testDatabase(ctx context.Context, path string) {
	fmt.Printf("🔸 Testing SQLite at %s... ", path)

	st, err := store.NewSQLiteStore(path)
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return
	}
	defer st.Close()

	active, err := st.ListActiveRules(ctx)
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return
	}
	fmt.Printf("✅ SUCCESS (%d active rules)\n", len(active))
}

func testRedis(url string) {
	fmt.Printf("🔸 Testing Redis throttle store... ")

	rs, err := throttle.NewRedisStore(url)
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return
	}
	defer rs.Close()
	fmt.Println("✅ SUCCESS")
}
