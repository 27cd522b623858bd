package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/basket/clawboard/internal/agent"
	"github.com/basket/clawboard/internal/audit"
	"github.com/basket/clawboard/internal/bus"
	"github.com/basket/clawboard/internal/channels"
	"github.com/basket/clawboard/internal/config"
	"github.com/basket/clawboard/internal/cron"
	"github.com/basket/clawboard/internal/events"
	"github.com/basket/clawboard/internal/executor"
	"github.com/basket/clawboard/internal/invoke"
	"github.com/basket/clawboard/internal/meeting"
	otelPkg "github.com/basket/clawboard/internal/otel"
	"github.com/basket/clawboard/internal/persistence"
	"github.com/basket/clawboard/internal/policy"
	"github.com/basket/clawboard/internal/scheduler"
	"github.com/basket/clawboard/internal/telemetry"
)

func runDaemon(ctx context.Context, quiet bool) int {
	cfg, err := config.Load()
	if err != nil {
		return fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		return fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	logger, logFile, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer logFile.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir, "config_fingerprint", cfg.Fingerprint())
	if cfg.NeedsInit {
		logger.Warn("config.yaml not found; running with defaults", "hint", "clawboard init")
	}

	eventBus := bus.New()

	otelProvider, err := otelPkg.Init(ctx, cfg.OTel, Version)
	if err != nil {
		return fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if summary, err := otelProvider.Summary(shutdownCtx); err == nil && len(summary) > 0 {
			logger.Info("metrics summary", otelPkg.SummaryAttrs(summary)...)
		}
		_ = otelProvider.Shutdown(shutdownCtx)
	}()
	inst, err := otelProvider.NewInstruments()
	if err != nil {
		return fatalStartup(logger, "E_OTEL_INIT", err)
	}

	store, err := persistence.Open(config.DBPath(cfg.HomeDir), eventBus)
	if err != nil {
		return fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	store.SetRetryPolicy(cfg.MaxAttempts, cfg.RetryDelay())
	audit.SetDB(store.DB())
	logger.Info("startup phase", "phase", "schema_migrated")

	policyPath := config.PolicyPath(cfg.HomeDir)
	polData, err := policy.Load(policyPath)
	if err != nil {
		return fatalStartup(logger, "E_POLICY_LOAD", err)
	}
	pol := policy.NewLivePolicy(polData, policyPath)
	logger.Info("startup phase", "phase", "policy_loaded", "policy_version", pol.PolicyVersion())

	rawClient, err := invoke.New(ctx, cfg.InvokeOptions(), logger)
	if err != nil {
		return fatalStartup(logger, "E_RUNTIME_INIT", err)
	}
	client := invoke.Instrument(rawClient, inst, logger)
	healthCtx, cancelHealth := context.WithTimeout(ctx, 20*time.Second)
	if client.HealthCheck(healthCtx) {
		logger.Info("agent runtime healthy", "adapter", client.Name())
	} else {
		logger.Warn("agent runtime health check failed; turns will fail until it recovers", "adapter", client.Name())
	}
	cancelHealth()

	registry := agent.NewRegistry(store, logger)
	emitter := events.NewEmitter(store, eventBus, logger)

	var notifier meeting.Notifier
	if cfg.Telegram.Enabled {
		notifier = channels.NewTelegramChannel(cfg.Telegram.Token, logger)
	}

	sched := scheduler.New(store, nil, scheduler.Config{
		WorkerCount:  cfg.WorkerCount,
		PollInterval: cfg.PollInterval(),
	}, inst, logger)
	pipeline := meeting.New(meeting.Config{
		ContextMaxChars:     cfg.ContextMaxChars,
		MemoContextMaxChars: cfg.MemoContextMaxChars,
	}, meeting.Deps{
		Store:    store,
		Client:   client,
		Agents:   registry,
		Events:   emitter,
		Notifier: notifier,
		Enqueuer: sched,
		Inst:     inst,
		Logger:   logger,
	})
	exec := executor.New(executor.Config{
		DefaultWorkspace: cfg.AgentWorkspaceDir,
		MaxAttempts:      cfg.MaxAttempts,
		RetryDelay:       cfg.RetryDelay(),
	}, executor.Deps{
		Store:  store,
		Client: client,
		Agents: registry,
		Events: emitter,
		Policy: pol,
		Inst:   inst,
		Logger: logger,
	})
	sched.SetHandlers(scheduler.Handlers(pipeline, exec))
	sched.Start(ctx)
	logger.Info("startup phase", "phase", "scheduler_started", "workers", cfg.WorkerCount)

	cronSched := cron.NewScheduler(cron.Config{Store: store, Enqueuer: sched, Logger: logger})
	cronSched.Start(ctx)
	defer cronSched.Stop()

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		return fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go watchConfig(confWatcher, cfg, logFile, pol, logger)

	sub := eventBus.Subscribe(bus.TopicProjectPrefix)
	defer eventBus.Unsubscribe(sub)
	go logDomainEvents(ctx, sub, logger)

	logger.Info("clawboard daemon ready", "version", Version, "adapter", client.Name())
	<-ctx.Done()
	logger.Info("shutdown signal received")

	sched.Drain(cfg.DrainTimeout())
	eventBus.Close()
	logger.Info("shutdown complete")
	return 0
}

// watchConfig applies hot-reloadable settings: the log level from
// config.yaml and the whole of policy.yaml.
func watchConfig(w *config.Watcher, cfg config.Config, logFile *telemetry.LogFile, pol *policy.LivePolicy, logger *slog.Logger) {
	current := cfg
	for ev := range w.Events() {
		switch ev.Kind {
		case config.ConfigFile:
			next, err := config.LoadFrom(current.HomeDir)
			if err != nil {
				logger.Error("config.yaml reload rejected; retaining previous config", "error", err)
				continue
			}
			if next.LogLevel != current.LogLevel {
				logFile.SetLevel(next.LogLevel)
				logger.Info("log level changed", "log_level", next.LogLevel)
			}
			if next.Fingerprint() != current.Fingerprint() {
				logger.Warn("config.yaml changed; restart the daemon to apply runtime and queue settings",
					"old_fingerprint", current.Fingerprint(), "new_fingerprint", next.Fingerprint())
			}
			current = next
		case config.PolicyFile:
			if err := policy.ReloadFromFile(pol, ev.Path); err != nil {
				logger.Error("policy.yaml reload rejected; retaining previous policy", "error", err)
				continue
			}
			logger.Info("policy.yaml hot-reloaded", "policy_version", pol.PolicyVersion())
		}
	}
}

func logDomainEvents(ctx context.Context, sub *bus.Subscription, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			if n := sub.Dropped(); n > 0 {
				logger.Warn("domain event listener fell behind", "prefix", sub.Prefix(), "dropped", n)
			}
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			projectID, _ := bus.ProjectIDFromTopic(ev.Topic)
			env, ok := ev.Payload.(events.Envelope)
			if !ok {
				continue
			}
			logger.Debug("domain event", "project_id", projectID, "type", string(env.Type), "event_id", env.ID)
		}
	}
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) int {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"clawboard","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	return 1
}
