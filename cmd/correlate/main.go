package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/opswatch/correlate/internal/config"
	cdb "github.com/opswatch/correlate/internal/correlation/database"
	"github.com/opswatch/correlate/internal/correlation/ruleset"
	"github.com/opswatch/correlate/internal/correlation/service/aggregation"
	"github.com/opswatch/correlate/internal/correlation/service/alertbuilder"
	"github.com/opswatch/correlate/internal/correlation/service/state"
)

func main() {
	log.Info().Msg("Starting correlate aggregation worker")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	db, err := cdb.New(cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ruleStore := ruleset.NewPgStore(db)
	if cfg.Aggregation.RulesFile != "" {
		if err := ruleset.Bootstrap(ctx, ruleStore, cfg.Aggregation.RulesFile); err != nil {
			log.Error().Err(err).Msg("rule bootstrap failed")
		}
	}

	agg := cfg.Aggregation
	windows := state.NewWindowStateStore(rdb,
		time.Duration(agg.SlidingStateTTLSec)*time.Second,
		time.Duration(agg.ProcessedTTLSec)*time.Second,
		agg.EnableWindowTracking)
	sessions := state.NewSessionStateManager(rdb,
		time.Duration(agg.SessionMaxDurationSec)*time.Second,
		time.Duration(agg.ProcessedTTLSec)*time.Second)

	eventDAO := aggregation.NewPgEventDAO(db)
	ranges := aggregation.NewTimeRangeCalculator(agg.FixedBufferMultiplier)
	strategy := aggregation.NewEventQueryStrategy(eventDAO, ranges, agg.MaxQueryResults)
	alertDAO := alertbuilder.NewPgAlertDAO(db)
	builder := alertbuilder.NewBuilder(db, alertDAO, eventDAO, alertbuilder.DefaultTemplater{}, agg.DefaultAlertLevel)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Info().Str("addr", cfg.Metrics.Addr).Msg("serving metrics")
		if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	go aggregation.StartScheduler(ctx, aggregation.Deps{
		Rules:    ruleStore,
		Events:   strategy,
		Resolver: aggregation.NewParamsResolver(agg.DefaultMinEventCount),
		Engine:   aggregation.NewEngine(),
		Windows:  windows,
		Sink:     builder,
		ProcessorDeps: aggregation.ProcessorDeps{
			Windows:            windows,
			Sessions:           sessions,
			SessionMaxDuration: time.Duration(agg.SessionMaxDurationSec) * time.Second,
			SessionMaxEvents:   agg.SessionMaxEvents,
		},
		Interval:      parseDuration(agg.ScanInterval, time.Minute),
		MaxConcurrent: agg.MaxConcurrentRules,
		SmartSchedule: agg.EnableSmartSchedule,
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("correlate aggregation worker exit...")
}

func parseDuration(s string, d time.Duration) time.Duration {
	if s == "" {
		return d
	}
	if v, err := time.ParseDuration(s); err == nil {
		return v
	}
	return d
}
