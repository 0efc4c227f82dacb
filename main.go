package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/Wattine-core-poc/server/internal/assistant/dispatcher"
	"github.com/Wattine-core-poc/server/internal/assistant/memory"
	"github.com/Wattine-core-poc/server/internal/assistant/model"
	"github.com/Wattine-core-poc/server/internal/assistant/orchestrator"
	"github.com/Wattine-core-poc/server/internal/assistant/provider"
	"github.com/Wattine-core-poc/server/internal/energy"
	"github.com/Wattine-core-poc/server/internal/ratelimit"
	"github.com/Wattine-core-poc/server/internal/telemetry"
	pkgpostgres "github.com/Wattine-core-poc/server/pkg/postgres"
	pkgredis "github.com/Wattine-core-poc/server/pkg/redis"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig defines all configurable parameters for the assistant example,
// sourced from environment variables (loaded from .env for local runs).
// Redis, Postgres and the Gemini key are all optional: the example falls back
// to in-process state, a seeded in-memory fleet and canned chat replies.
type AppConfig struct {
	// Infrastructure
	Redis    pkgredis.Config
	Postgres pkgpostgres.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Assistant configs
	Orchestrator model.OrchestratorConfig
	Conversation model.ConversationConfig
	Response     model.ProviderModelConfig
	Dispatch     model.DispatcherConfig
	RateLimit    model.RateLimitConfig
	DeviceCache  model.DirectoryCacheConfig
}

func main() {
	fmt.Println("Testing Wattine energy assistant...")
	ctx := context.Background()
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var envCfg AppConfig
	if err := envconfig.Process("", &envCfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	followUpTTL := mustDuration("CONVERSATION_FOLLOWUP_TTL", envCfg.Conversation.FollowUpTTL)
	responseTimeout := mustDuration("RESPONSE_TIMEOUT", envCfg.Response.Timeout)
	aggregateTimeout := mustDuration("DISPATCH_AGGREGATE_TIMEOUT", envCfg.Dispatch.AggregateTimeout)
	cacheTTL := mustDuration("DEVICE_CACHE_TTL", envCfg.DeviceCache.TTL)

	// Conversational state: Redis when configured, in-process otherwise.
	var (
		followUps model.FollowUpRepository
		recaps    model.RecapRepository
		history   model.HistoryRepository
	)
	if envCfg.Redis.URL != "" {
		rdb, err := envCfg.Redis.New()
		if err != nil {
			log.Fatalf("Failed to initialise Redis client: %v", err)
		}
		defer rdb.Close()
		fmt.Println("Connected to Redis successfully")
		followUps = memory.NewRedisFollowUpMemory(rdb, followUpTTL)
		recaps = memory.NewRedisRecapMemory(rdb, envCfg.Conversation.Recap.MaxLines, followUpTTL)
		history = memory.NewRedisHistoryBuffer(rdb, envCfg.Conversation.History.MaxMessages, followUpTTL)
	} else {
		fmt.Println("REDIS_URL not set, using in-process conversation state")
		followUps = memory.NewFollowUpMemory(followUpTTL)
		recaps = memory.NewRecapMemory(envCfg.Conversation.Recap.MaxLines)
		history = memory.NewHistoryBuffer(envCfg.Conversation.History.MaxMessages)
	}

	orc := orchestrator.New(envCfg.Orchestrator.LocalTimezone)

	// Telemetry: Postgres when configured, otherwise a seeded in-memory fleet.
	var (
		directory  model.DeviceDirectory
		aggregator model.Aggregator
		userID     = "demo-user"
	)
	if envCfg.Postgres.URL != "" {
		db, err := envCfg.Postgres.New()
		if err != nil {
			log.Fatalf("Failed to initialise Postgres client: %v", err)
		}
		defer db.Close()
		fmt.Println("Connected to Postgres successfully")
		store := telemetry.NewPostgresStore(db, energy.DefaultMaxGap)
		directory = store
		aggregator = store
	} else {
		fmt.Println("POSTGRES_URL not set, using a seeded in-memory fleet")
		store := telemetry.NewMemoryStore(orc.Location(), energy.DefaultMaxGap)
		seedDemoFleet(store, userID)
		directory = store
		aggregator = store
	}
	directory = telemetry.NewCachedDirectory(directory, cacheTTL)

	// Chat provider: Gemini when a key is present; canned replies otherwise.
	var chat provider.Provider
	if envCfg.APIKey != "" {
		gem, err := provider.NewGemini(ctx, provider.GeminiConfig{
			APIKey:  envCfg.APIKey,
			BaseURL: envCfg.BaseURL,
			Model:   envCfg.Response,
		})
		if err != nil {
			log.Fatalf("Failed to initialise Gemini provider: %v", err)
		}
		chat = gem
	} else {
		fmt.Println("GEMINI_API_KEY not set, chat turns use fallback replies")
	}

	d := dispatcher.New(dispatcher.Options{
		Orchestrator:     orc,
		FollowUps:        followUps,
		Recaps:           recaps,
		History:          history,
		Directory:        directory,
		Aggregator:       aggregator,
		Provider:         provider.NewFallback(chat, responseTimeout),
		Limiter:          ratelimit.New(envCfg.RateLimit.RequestsPerMinute, envCfg.RateLimit.TokensPerMinute),
		AggregateTimeout: aggregateTimeout,
		EstimatedTokens:  envCfg.Dispatch.EstimatedTokens,
	})

	testQueries := []struct {
		description string
		query       string
	}{
		{
			description: "Greeting",
			query:       "hi there",
		},
		{
			description: "Device usage with an explicit window",
			query:       "How much energy did my AC use yesterday?",
		},
		{
			description: "Follow-up switching device, window inherited",
			query:       "what about the fridge?",
		},
		{
			description: "Fleet ranking",
			query:       "Which device used the most power over the last 7 days?",
		},
		{
			description: "Rank follow-up from the stored list",
			query:       "and the second most?",
		},
		{
			description: "Conversation recap",
			query:       "give me a recap",
		},
	}

	for i, test := range testQueries {
		fmt.Printf("\nTest %d: %s\n", i+1, test.description)
		fmt.Printf("Query: %q\n", test.query)

		resp := d.Handle(ctx, userID, test.query)
		fmt.Printf("Response %d: %s\n", i+1, resp.Summary)
		fmt.Printf("Metadata: %v\n", resp.Metadata)
		fmt.Println("------------------------------------------------")

		time.Sleep(200 * time.Millisecond)
	}

	fmt.Println("All assistant turns completed.")
}

func mustDuration(name, value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid %s '%s': %v", name, value, err)
	}
	return d
}

// seedDemoFleet records ten days of synthetic telemetry at 10-minute cadence
// for a small household fleet, so the example answers with real numbers.
func seedDemoFleet(store *telemetry.MemoryStore, userID string) {
	fleet := []struct {
		name  string
		baseW float64
		peakW float64
	}{
		{"Living Room AC", 120, 950},
		{"Water Heater", 10, 1800},
		{"Fridge", 90, 140},
		{"Gaming PC", 15, 420},
		{"Bedroom Light", 0, 12},
	}

	end := time.Now().UTC().Truncate(10 * time.Minute)
	start := end.AddDate(0, 0, -10)

	for _, dev := range fleet {
		id := store.AddDevice(userID, dev.name)
		for ts := start; !ts.After(end); ts = ts.Add(10 * time.Minute) {
			hour := float64(ts.Hour()) + float64(ts.Minute())/60
			// Evening-weighted daily cycle.
			cycle := 0.5 + 0.5*math.Sin((hour-14)/24*2*math.Pi)
			store.Record(id, ts, dev.baseW+(dev.peakW-dev.baseW)*cycle)
		}
	}
}
