package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/procfs"

	"github.com/dyxium/dia-core/cmd/common"
	"github.com/dyxium/dia-core/internal/config"
	rerrors "github.com/dyxium/dia-core/internal/errors"
	"github.com/dyxium/dia-core/internal/instruments"
	"github.com/dyxium/dia-core/internal/journal"
	"github.com/dyxium/dia-core/internal/logger"
	"github.com/dyxium/dia-core/internal/monitoring"
	"github.com/dyxium/dia-core/internal/notifications"
	"github.com/dyxium/dia-core/internal/pretrade"
	"github.com/dyxium/dia-core/internal/safety"
	"github.com/dyxium/dia-core/internal/sampler"
)

const appName = "riskd"

func main() {
	fs := flag.NewFlagSet(appName, flag.ExitOnError)
	flags := common.RegisterCommonFlags(fs)
	addr := fs.String("addr", "", "HTTP listen address (overrides DIA_HTTP_ADDR)")
	procMount := fs.String("proc", procfs.DefaultMountPoint, "procfs mount point")
	journalPath := fs.String("journal", "", "SQLite journal path (overrides DIA_JOURNAL_PATH)")

	usage := common.NewUsageFormatter(appName, "pre-trade risk daemon: sizing, order validation and overload guard").
		AddExample("riskd", "Run with .env and config/risk_limits.yaml").
		AddExample("riskd -risk-file /etc/dia/risk.yaml -addr :9108", "Custom risk file and listen address")
	fs.Usage = func() { usage.PrintUsage(os.Stderr, fs) }
	_ = fs.Parse(os.Args[1:])

	if *flags.Version {
		common.PrintVersion(os.Stdout, appName)
		return
	}

	cfg, err := common.LoadEnvironment(flags)
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *journalPath != "" {
		cfg.JournalPath = *journalPath
	}

	if err := run(cfg, *procMount); err != nil {
		var re *rerrors.RiskError
		if errors.As(err, &re) && re.IsFatal() {
			log.Printf("%s: configuration error: %v", appName, err)
			os.Exit(2)
		}
		log.Fatalf("%s: %v", appName, err)
	}
}

func run(cfg *config.Config, procMount string) error {
	appLog, err := logger.NewLogger(appName, logger.Options{
		LogDir:   cfg.LogDir,
		Stdout:   cfg.LogStdout,
		MinLevel: logger.ParseLevel(cfg.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLog.Close()

	store, err := config.NewLimitsStore(cfg.RiskFile)
	if err != nil {
		return err
	}
	rf := store.Current()
	appLog.Info("Loaded risk file %s (%d symbol overrides)", cfg.RiskFile, len(rf.Symbols))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()
	errorStats := rerrors.NewErrorStats(50)
	latency := safety.NewLatencyTracker(safety.DefaultLatencyHistory)

	procSampler, err := sampler.New(procMount, latency)
	if err != nil {
		return err
	}
	guard, err := safety.NewOverloadGuard(rf.Guard, procSampler,
		safety.WithGuardLogger(appLog),
		safety.WithGuardObserver(metrics),
	)
	if err != nil {
		return err
	}

	jrnl, err := journal.Open(ctx, cfg.JournalPath)
	if err != nil {
		return err
	}
	defer jrnl.Close()

	provider, live := buildProvider(cfg, store, metrics, appLog)
	notifier, alertLimiter := buildNotifier(cfg, appLog)

	svc := pretrade.NewService(store, provider, metrics, appLog,
		pretrade.WithJournal(jrnl),
		pretrade.WithGuard(guard),
		pretrade.WithLatencyTracker(latency),
		pretrade.WithErrorStats(errorStats),
	)

	dispatcher := newAlertDispatcher(jrnl, notifier, svc.ActiveForAlert, metrics, appLog)
	guard.SetAlertHandler(dispatcher.Enqueue)

	health := monitoring.NewHealthChecker(guard, errorStats)
	if live != nil {
		health.WatchBreaker("bybit_instruments", live.Breaker())
	}
	if alertLimiter != nil {
		health.WatchAlertLimiter(alertLimiter)
	}

	reload := func() error {
		err := store.Reload()
		health.SetConfigResult(err)
		if err != nil {
			appLog.LogError("reload", err)
			return err
		}
		if live != nil {
			live.Reset()
		}
		appLog.Info("Reloaded risk file %s (reload #%d)", cfg.RiskFile, store.Reloads())
		return nil
	}

	server := monitoring.NewServer(cfg.HTTP.Addr, monitoring.ServerDeps{
		Service: svc,
		Guard:   guard,
		Health:  health,
		Metrics: metrics,
		Journal: jrnl,
		Reload:  reload,
		Logger:  appLog,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runGuard(ctx, guard, dispatcher)
	}()
	go func() {
		defer wg.Done()
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-hup:
				_ = reload()
			case <-ctx.Done():
				return
			}
		}
	}()

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	select {
	case <-ctx.Done():
		appLog.Info("Shutdown signal received")
	case err = <-serverErr:
		if err != nil {
			appLog.LogError("http", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.LogError("http.shutdown", err)
	}

	wg.Wait()
	appLog.Info("Stopped at level %s (sampling failures=%d)", guard.Level(), guard.SamplingFailures())
	return err
}

// buildProvider returns the static constraints, fronted by the exchange
// lookup when it is enabled. live is nil when the lookup is disabled.
func buildProvider(cfg *config.Config, store *config.LimitsStore, metrics *monitoring.Metrics, log *logger.Logger) (provider instruments.Provider, live *instruments.BybitProvider) {
	static := instruments.NewStaticProvider(store)
	if !cfg.Bybit.Enabled {
		return static, nil
	}

	bybit := instruments.NewBybitProvider(instruments.BybitConfig{
		BaseURL:   cfg.Bybit.BaseURL,
		APIKey:    cfg.Bybit.APIKey,
		APISecret: cfg.Bybit.APISecret,
		Category:  cfg.Bybit.Category,
		CacheTTL:  cfg.Bybit.CacheTTL,
	})
	bybit.Breaker().SetStateChangeCallback(func(from, to safety.CircuitBreakerState) {
		log.LogWarning("instruments", "bybit breaker %s -> %s", from, to)
		if to == safety.StateClosed {
			bybit.Invalidate()
		}
	})

	fallback := instruments.NewFallbackProvider(bybit, static, log)
	fallback.OnFallback(func(symbol string, _ error) {
		metrics.RecordInstrumentFallback(symbol)
	})
	log.Info("Instrument constraints from bybit (%s), static fallback", cfg.Bybit.Category)
	return fallback, bybit
}

// buildNotifier returns nil when no channel is configured
func buildNotifier(cfg *config.Config, log *logger.Logger) (notifications.Notifier, *safety.RateLimiter) {
	n := cfg.Notifications

	var channels []notifications.Notifier
	if n.TelegramToken != "" && n.TelegramChatID != "" {
		channels = append(channels, notifications.NewTelegramNotifier(n.TelegramToken, n.TelegramChatID))
	}
	if n.SMTPHost != "" {
		channels = append(channels, notifications.NewEmailNotifier(notifications.EmailConfig{
			Host:       n.SMTPHost,
			Port:       n.SMTPPort,
			Username:   n.SMTPUser,
			Password:   n.SMTPPassword,
			From:       n.EmailFrom,
			Recipients: n.EmailTo,
		}))
	}

	multi := notifications.NewMultiNotifier(channels...)
	if multi.Len() == 0 {
		log.Info("No alert channels configured")
		return nil, nil
	}

	limiter := safety.NewRateLimiter("alerts", n.MaxBurst, n.RefillEvery)
	log.Info("Alerting on %d channel(s), burst %d per %s", multi.Len(), n.MaxBurst, n.RefillEvery)
	return notifications.NewRateLimitedNotifier(multi, limiter), limiter
}
