// Command candlesync collects OHLCV candles from exchange APIs into a local
// database, incrementally and on a schedule.
//
// Usage:
//
//	candlesync [flags] <command>
//
// Commands:
//
//	run      run collection continuously on the configured interval
//	collect  run a single collection cycle and exit
//	stats    print stored counts and status per symbol
//	symbols  list tradable symbols reported by the provider
//	prune    delete candles older than the retention horizon
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mwojcik/candlesync/internal/collector"
	"github.com/mwojcik/candlesync/internal/config"
	"github.com/mwojcik/candlesync/internal/exchange"
	"github.com/mwojcik/candlesync/internal/executor"
	"github.com/mwojcik/candlesync/internal/logger"
	"github.com/mwojcik/candlesync/internal/netcheck"
	"github.com/mwojcik/candlesync/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to JSON configuration file")
	flag.Usage = usage
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "run"
	}

	if err := run(command, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: candlesync [flags] <run|collect|stats|symbols|prune>\n\n")
	flag.PrintDefaults()
}

func run(command, configPath string) error {
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return err
	}

	logManager, err := logger.NewManager(cfg.Logging)
	if err != nil {
		return err
	}
	defer logManager.Close()
	log := logManager.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providerCfg := cfg.ActiveProvider()
	adapter, err := exchange.New(cfg.Provider, exchange.Options{
		BaseURL: providerCfg.BaseURL,
		Timeout: providerCfg.TimeoutDuration(),
		Logger:  logManager.Component("exchange"),
	})
	if err != nil {
		return err
	}

	exec := executor.New(adapter, executor.Config{
		RateLimit:  providerCfg.RateLimitDuration(),
		Timeout:    providerCfg.TimeoutDuration(),
		MaxRetries: providerCfg.MaxRetries,
		Logger:     logManager.Component("executor"),
	})

	store, err := openStore(cfg, logManager)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Initialize(ctx); err != nil {
		return err
	}

	checker := netcheck.NewChecker(logManager.Component("netcheck"))

	coll, err := collector.New(exec, store, checker, collector.Config{
		Symbols:              cfg.Symbols,
		Interval:             cfg.Interval,
		CollectionInterval:   cfg.CollectionIntervalDuration(),
		Lookback:             time.Duration(cfg.LookbackDays) * 24 * time.Hour,
		BaseURL:              providerCfg.BaseURL,
		MaxConnectionRetries: cfg.MaxConnectionRetries,
		ConnectionRetryDelay: cfg.ConnectionRetryDelayDuration(),
		Logger:               logManager.Component("collector"),
	})
	if err != nil {
		return err
	}

	switch command {
	case "run":
		retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
		sched := collector.NewScheduler(coll, cfg.CollectionIntervalDuration(), retention,
			logManager.Component("scheduler"))
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		log.Info("shutdown complete")
		return nil

	case "collect":
		result, err := coll.RunCycle(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("cycle %s: %d/%d symbols succeeded in %s\n",
			result.CycleID, result.Succeeded(), len(result.Results), result.Duration.Round(time.Millisecond))
		for _, sr := range result.Results {
			printSymbolResult(sr)
		}
		return nil

	case "stats":
		stats, err := coll.Stats(ctx)
		if err != nil {
			return err
		}
		var total int64
		for _, st := range stats {
			total += st.Count
			if st.Status == nil {
				fmt.Printf("%-12s %8d candles  (never collected)\n", st.Symbol, st.Count)
				continue
			}
			fmt.Printf("%-12s %8d candles  status=%s  last_update=%s\n",
				st.Symbol, st.Count, st.Status.StatusCode,
				st.Status.LastUpdate.Format(time.RFC3339))
		}
		fmt.Printf("total: %d candles across %d symbols (provider %s)\n",
			total, len(stats), cfg.Provider)
		return nil

	case "symbols":
		symbols, err := exec.FetchSymbols(ctx)
		if err != nil {
			return err
		}
		for _, s := range symbols {
			fmt.Println(s)
		}
		return nil

	case "prune":
		if cfg.RetentionDays <= 0 {
			return fmt.Errorf("retention_days is not configured")
		}
		removed, err := coll.PruneOlderThan(ctx, time.Duration(cfg.RetentionDays)*24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d candles older than %d days\n", removed, cfg.RetentionDays)
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func printSymbolResult(sr collector.SymbolResult) {
	switch {
	case sr.Skipped:
		fmt.Printf("  %-12s skipped (fresh)\n", sr.Symbol)
	case sr.Success:
		fmt.Printf("  %-12s +%d candles\n", sr.Symbol, sr.RecordsAdded)
	default:
		fmt.Printf("  %-12s failed: %v\n", sr.Symbol, sr.Err)
	}
}

func openStore(cfg *config.AppConfig, logManager *logger.Manager) (storage.FullStore, error) {
	switch cfg.Storage.Type {
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		if cfg.Storage.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		return storage.NewDuckDBStore(cfg.Storage.Path, logManager.Component("storage"))
	}
}
