package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/clusterkit/segmentpool/internal/adapters/cache"
	"github.com/clusterkit/segmentpool/internal/adapters/database"
	"github.com/clusterkit/segmentpool/internal/adapters/inventory"
	"github.com/clusterkit/segmentpool/internal/adapters/journal"
	"github.com/clusterkit/segmentpool/internal/allocation"
	"github.com/clusterkit/segmentpool/internal/config"
	"github.com/clusterkit/segmentpool/internal/domain"
	"github.com/clusterkit/segmentpool/internal/logging"
	"github.com/clusterkit/segmentpool/internal/reporting"
	"github.com/clusterkit/segmentpool/internal/resolver"
	"github.com/clusterkit/segmentpool/internal/telemetry"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	// Embed fallback root certificates for static binaries
	_ "golang.org/x/crypto/x509roots/fallback"
)

const usage = `usage: segmentpool <allocate|release|status|history> -cluster <name> -site <site> -network <network>`

func main() {
	instanceID := uuid.New().String()
	logger := logging.NewLogger().With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	flags := flag.NewFlagSet(command, flag.ExitOnError)
	cluster := flags.String("cluster", "", "owning cluster name")
	site := flags.String("site", "", "site slug")
	network := flags.String("network", "", "network name within the site")
	if err := flags.Parse(os.Args[2:]); err != nil {
		fail("Failed to parse flags", "error", err.Error())
	}

	conf, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}
	logger.Info("Loaded config", "config", conf.NonSensitiveString())

	flush, err := reporting.InitSentryOrMock(conf)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()

	ctx := logging.AddToContext(context.Background(), logger)
	ctx = reporting.SetStartedAtInContext(ctx, time.Now())

	var metrics *telemetry.Metrics
	if !conf.IsDevelopment() {
		shutdown, err := telemetry.SetupOTelSDK(ctx, "segmentpool")
		if err != nil {
			fail("Failed to initialize OpenTelemetry", "error", err.Error())
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("Failed to shut down OpenTelemetry", "error", err.Error())
			}
		}()

		metrics, err = telemetry.NewMetrics()
		if err != nil {
			fail("Failed to initialize metrics", "error", err.Error())
		}
	}

	eventJournal := initJournal(ctx, conf, logger)
	// A nil *PostgresEventJournal must not end up as a non-nil interface
	var allocationJournal allocation.Journal
	if eventJournal != nil {
		allocationJournal = eventJournal
	}

	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}
	limiter := rate.NewLimiter(rate.Limit(conf.InventoryRatePerSecond()), conf.InventoryRateBurst())
	pools := inventory.NewPools(
		conf.ReadPoolSize(),
		conf.WritePoolSize(),
		conf.SlowCallThreshold(),
		conf.SevereCallThreshold(),
		metrics,
	)
	store := inventory.NewClient(httpClient, conf.InventoryURL(), conf.InventoryToken(), limiter, pools)

	classes := cache.NewClassTable(conf.CacheTTLOverrides())
	references := resolver.New(store, cache.NewClassTTLCache[domain.Reference](classes), metrics)

	allocator := allocation.New(
		store,
		references,
		classes,
		allocationJournal,
		metrics,
		allocation.RetryPolicy{
			MaxAttempts: conf.MaxRetryAttempts(),
			BaseBackoff: conf.RetryBackoff(),
		},
		time.Now,
		time.After,
	)

	scope := domain.Scope{Site: *site, Network: *network}

	switch command {
	case "allocate":
		segment, err := allocator.Allocate(ctx, *cluster, scope)
		if err != nil {
			fail("Failed to allocate segment", "error", err.Error())
		}
		fmt.Printf("allocated vid %d (%s) for %s in %s\n", segment.VID, segment.Prefix, *cluster, scope)
	case "release":
		if err := allocator.Release(ctx, *cluster, scope); err != nil {
			fail("Failed to release segment", "error", err.Error())
		}
		fmt.Printf("released segment for %s in %s\n", *cluster, scope)
	case "status":
		segment, err := allocator.FindExistingAllocation(ctx, *cluster, scope)
		if err != nil {
			fail("Failed to look up allocation", "error", err.Error())
		}
		if segment == nil {
			fmt.Printf("no allocation for %s in %s\n", *cluster, scope)
			return
		}
		fmt.Printf("vid %d (%s) reserved for %s in %s\n", segment.VID, segment.Prefix, *cluster, scope)
	case "history":
		if eventJournal == nil {
			fail("History requires a database connection")
		}
		events, err := eventJournal.ListEvents(ctx, *cluster, 20)
		if err != nil {
			fail("Failed to list allocation events", "error", err.Error())
		}
		for _, event := range events {
			fmt.Printf("%s %s vid %d in %s\n", event.OccurredAt.Format(time.RFC3339), event.Action, event.VID, event.Scope)
		}
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

// initJournal connects to the event journal database. In development a
// missing database downgrades to no journaling instead of failing.
func initJournal(ctx context.Context, conf config.Config, logger *slog.Logger) *journal.PostgresEventJournal {
	db, err := database.NewConfiguredPostgresDatabase(conf)
	if err != nil {
		if conf.IsDevelopment() {
			logger.Info("No database available, skipping event journaling", "error", err.Error())
			return nil
		}
		logger.Error("Failed to initialize database", "error", err.Error())
		os.Exit(1)
	}

	schemaName := database.GetSchemaName(!conf.IsProduction())
	err = database.NewDatabaseMigrator(db, logger.With("component", "migrator")).Migrate(ctx, schemaName)
	if err != nil {
		logger.Error("Failed to migrate database", "error", err.Error())
		os.Exit(1)
	}

	return journal.NewPostgresEventJournal(db, schemaName)
}
