package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/contextgate/contextgate-backend/internal/api"
	"github.com/contextgate/contextgate-backend/internal/config"
	"github.com/contextgate/contextgate-backend/internal/database"
	"github.com/contextgate/contextgate-backend/internal/delegate"
	"github.com/contextgate/contextgate-backend/internal/governor"
	"github.com/contextgate/contextgate-backend/internal/repository"
	"github.com/contextgate/contextgate-backend/internal/repository/postgres"
	"github.com/contextgate/contextgate-backend/internal/services"
)

func main() {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	// Build the governor from static configuration. All validation
	// happens here: an unknown model or malformed strategy aborts
	// startup rather than surfacing per-call.
	gov, summarizerDelegate, err := buildGovernor(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build request governor")
	}

	// Optional usage persistence
	var usageRepo repository.UsageRepository
	if cfg.Database.Enabled {
		db, err := database.NewConnection(cfg.Database)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to database")
		}
		defer db.Close()

		if err := database.RunMigrations(cfg.Database); err != nil {
			log.WithError(err).Fatal("failed to run migrations")
		}
		usageRepo = postgres.NewUsageRepository(db.DB)
	}

	var backend services.CompletionBackend
	if summarizerDelegate != nil {
		backend = summarizerDelegate
	}
	chat := services.NewGovernedChatService(gov, backend, usageRepo, log)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "ContextGate Backend",
		ErrorHandler: customErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: getOrigins(),
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	api.SetupRoutes(app, chat)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.WithField("addr", addr).Info("ContextGate backend starting")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("failed to start server")
	}
}

// buildGovernor assembles the full pre-flight/post-flight pipeline
// from configuration.
func buildGovernor(cfg *config.Config, log *logrus.Logger) (*governor.RequestGovernor, *delegate.OpenAIDelegate, error) {
	estimator := governor.NewTokenEstimator()
	scorer := governor.NewImportanceScorer()
	pruner := governor.NewMessagePruner(estimator, scorer)

	// Summarization delegate; without an API key the summarizer runs
	// on its rule-based fallback only.
	var summarizerDelegate *delegate.OpenAIDelegate
	var completionDelegate governor.CompletionDelegate
	if cfg.Delegate.APIKey != "" {
		d, err := delegate.NewOpenAIDelegate(cfg.Delegate, log)
		if err != nil {
			return nil, nil, err
		}
		summarizerDelegate = d
		completionDelegate = d
	} else {
		log.Warn("no delegate API key configured, summarization uses the rule-based fallback")
	}

	timeout := time.Duration(cfg.Delegate.TimeoutSeconds) * time.Second
	summarizer := governor.NewSummarizer(estimator, completionDelegate, timeout, log)
	contextGov := governor.NewContextGovernor(estimator, pruner, summarizer, log)

	window := governor.NewRateWindow(governor.RateLimits{
		RequestsPerWindow:     cfg.Limits.RequestsPerMinute,
		InputTokensPerWindow:  cfg.Limits.InputTokensPerMinute,
		OutputTokensPerWindow: cfg.Limits.OutputTokensPerMinute,
		SafetyMargin:          cfg.Limits.SafetyMargin,
	})

	planner := governor.NewCacheStrategyPlanner(estimator, cfg.MinCacheableTokens)

	table := governor.PricingTable{}
	for id, p := range cfg.Pricing {
		table[id] = governor.ModelPricing{
			InputRate:            p.InputRate,
			OutputRate:           p.OutputRate,
			CacheWriteMultiplier: p.CacheWriteMultiplier,
			CacheReadMultiplier:  p.CacheReadMultiplier,
		}
	}
	ledger := governor.NewUsageLedger(governor.NewPricingCalculator(table))

	strategies := governor.NewStrategyRegistry()
	for name, s := range cfg.Strategies {
		class, err := governor.ParseTargetClass(s.TargetClass)
		if err != nil {
			return nil, nil, err
		}
		err = strategies.Register(governor.Strategy{
			Name:             name,
			ThresholdPercent: s.ThresholdPercent,
			PreserveRecent:   s.PreserveRecent,
			TargetClass:      class,
			CacheCutoffTurns: s.CacheCutoffTurns,
		})
		if err != nil {
			return nil, nil, err
		}
	}
	if cfg.DefaultStrategy != "" {
		if err := strategies.SetDefault(cfg.DefaultStrategy); err != nil {
			return nil, nil, err
		}
	}

	models := make(map[string]governor.ModelSpec, len(cfg.Models))
	for id, m := range cfg.Models {
		models[id] = governor.ModelSpec{
			MaxContextTokens: m.MaxContextTokens,
			MaxOutputTokens:  m.MaxOutputTokens,
		}
	}

	gov, err := governor.NewRequestGovernor(contextGov, window, planner, ledger, strategies, models, log)
	if err != nil {
		return nil, nil, err
	}
	return gov, summarizerDelegate, nil
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}

func getOrigins() string {
	origins := os.Getenv("CONTEXTGATE_CORS_ORIGINS")
	if origins == "" {
		return "http://localhost:5173,http://localhost:3000"
	}
	return origins
}
