package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/basket/taskhive/internal/agent"
	"github.com/basket/taskhive/internal/bus"
	"github.com/basket/taskhive/internal/config"
	"github.com/basket/taskhive/internal/gateway"
	"github.com/basket/taskhive/internal/monitor"
	otelPkg "github.com/basket/taskhive/internal/otel"
	"github.com/basket/taskhive/internal/persistence"
	"github.com/basket/taskhive/internal/schedule"
	"github.com/basket/taskhive/internal/scheduler"
	"github.com/basket/taskhive/internal/schema"
	"github.com/basket/taskhive/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE (default):
  %s                          Start the orchestrator daemon

SUBCOMMANDS:
  %s top                      Live ops dashboard polling the gateway API
  %s status                   Show daemon health status (/healthz)
  %s doctor [-json]           Run diagnostic checks

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  TASKHIVE_HOME           Data directory (default: ~/.taskhive)
  TASKHIVE_BIND_ADDR      Gateway bind address override
  TASKHIVE_AUTH_TOKEN     Gateway bearer token override

EXAMPLES:
  Run the daemon:         %s
  Watch live state:       %s top
  Check daemon health:    %s status
`, os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			return
		case "top":
			os.Exit(runTopCommand(ctx, args[1:]))
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	runDaemon(ctx, stop)
}

func runDaemon(ctx context.Context, stop context.CancelFunc) {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded",
		"version", Version, "config_fingerprint", cfg.Fingerprint())

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.Otel.Enabled,
		Exporter:    cfg.Otel.Exporter,
		Endpoint:    cfg.Otel.Endpoint,
		ServiceName: cfg.Otel.ServiceName,
		SampleRate:  cfg.Otel.SampleRate,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	store, schemaFiles := openStore(cfg, logger)
	defer store.Close()
	logger.Info("startup phase", "phase", "store_opened", "backend", cfg.Persistence.Backend)

	schemas := schema.NewRegistry()
	for _, sc := range cfg.Schemas {
		path := sc.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.HomeDir, path)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			fatalStartup(logger, "E_SCHEMA_READ", fmt.Errorf("schema for %q: %w", sc.TaskType, err))
		}
		if err := schemas.Register(sc.TaskType, raw); err != nil {
			fatalStartup(logger, "E_SCHEMA_COMPILE", err)
		}
	}
	if n := len(schemas.Types()); n > 0 {
		logger.Info("task schemas registered", "count", n)
	}

	eventBus := bus.New()
	eventBus.SetDefaultBufferSize(cfg.Bus.DefaultBufferSize)
	registry := agent.NewRegistry()
	orch := scheduler.New(registry, eventBus, scheduler.Options{
		BaseRetryDelay:    time.Duration(cfg.Orchestrator.RetryBaseDelaySeconds) * time.Second,
		DefaultTimeout:    cfg.TaskTimeout(),
		DefaultMaxRetries: cfg.Orchestrator.MaxRetries,
		Store:             store,
		Schemas:           schemas,
		Logger:            logger,
	})
	defer orch.Close()

	// Crash recovery: snapshots of in-flight tasks come back as pending;
	// agents are not restored and must re-register over the API.
	loadCtx, cancelLoad := context.WithTimeout(ctx, 10*time.Second)
	snaps, err := store.LoadTasks(loadCtx)
	cancelLoad()
	if err != nil {
		fatalStartup(logger, "E_RECOVERY_SCAN", err)
	}
	restored := orch.RestoreTasks(snaps)
	logger.Info("startup phase", "phase", "recovery_scan_completed", "tasks_restored", restored)

	liveness := monitor.NewLiveness(orch, cfg.HeartbeatInterval(), 0, logger)
	liveness.Start(ctx)
	defer liveness.Stop()

	timeoutMon := monitor.NewTimeout(orch, time.Duration(cfg.Orchestrator.TimeoutCheckSeconds)*time.Second, logger)
	timeoutMon.Start(ctx)
	defer timeoutMon.Stop()

	reaper := monitor.NewReaper(orch, eventBus,
		time.Duration(cfg.Orchestrator.ReapIntervalSeconds)*time.Second,
		time.Duration(cfg.Orchestrator.RetentionSeconds)*time.Second,
		time.Duration(cfg.Bus.IdleTimeoutSeconds)*time.Second,
		logger)
	reaper.Start(ctx)
	defer reaper.Stop()
	logger.Info("startup phase", "phase", "monitors_started")

	if len(cfg.Schedules) > 0 {
		templates := make([]schedule.Template, 0, len(cfg.Schedules))
		for _, sc := range cfg.Schedules {
			priority, err := scheduler.ParseTaskPriority(sc.Priority)
			if err != nil {
				fatalStartup(logger, "E_SCHEDULE_PARSE", fmt.Errorf("schedule %q: %w", sc.Name, err))
			}
			templates = append(templates, schedule.Template{
				Name:       sc.Name,
				Cron:       sc.Cron,
				TaskType:   sc.TaskType,
				Priority:   priority,
				Data:       sc.Data,
				AssignedTo: sc.AssignedTo,
				Timeout:    time.Duration(sc.TimeoutSeconds) * time.Second,
				MaxRetries: sc.MaxRetries,
			})
		}
		sched, err := schedule.NewScheduler(schedule.Config{
			Creator:   orch,
			Templates: templates,
			Logger:    logger,
		})
		if err != nil {
			fatalStartup(logger, "E_SCHEDULE_PARSE", err)
		}
		sched.Start(ctx)
		defer sched.Stop()
		logger.Info("recurring schedules armed", "count", len(templates))
	}

	confWatcher := config.NewWatcher(cfg.HomeDir, schemaFiles, logger)
	if err := confWatcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		for ev := range confWatcher.Events() {
			logger.Info("config hot-reload event", "path", ev.Path, "op", ev.Op.String())
			switch name := filepath.Base(ev.Path); {
			case name == "config.yaml":
				if _, err := config.Load(); err != nil {
					logger.Error("config.yaml reload failed; keeping running config", "error", err)
				} else {
					logger.Warn("config.yaml changed; timing and binding changes take effect on restart")
				}
			case strings.HasSuffix(name, ".json"):
				reloadSchemas(cfg, schemas, logger)
			}
		}
	}()

	gw := gateway.New(gateway.Config{
		Orchestrator:      orch,
		Bus:               eventBus,
		AuthToken:         cfg.Gateway.AuthToken,
		PollWait:          time.Duration(cfg.Bus.PollWaitSeconds) * time.Second,
		Keepalive:         time.Duration(cfg.Bus.KeepaliveSeconds) * time.Second,
		ConfigFingerprint: cfg.Fingerprint(),
		Metrics:           metrics,
		Logger:            logger,
	})

	server := &http.Server{
		Addr:    cfg.Gateway.BindAddr,
		Handler: gw.Handler(),
	}
	serverErr := make(chan error, 1)
	lc := &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
	ln, err := lc.Listen(ctx, "tcp", cfg.Gateway.BindAddr)
	if err != nil {
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	go func() {
		logger.Info("gateway listening", "addr", cfg.Gateway.BindAddr)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	logger.Info("startup phase", "phase", "gateway_started")

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
		stop()
	}

	// Stop intake first, then let the deferred Stop/Close calls drain
	// monitors, retry timers, and the store.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}

// openStore builds the configured persistence backend. SQLite failures at
// startup are fatal; runtime failures degrade to the in-memory fallback.
// It also returns the absolute schema file paths for the config watcher.
func openStore(cfg config.Config, logger *slog.Logger) (persistence.Store, []string) {
	var schemaFiles []string
	for _, sc := range cfg.Schemas {
		path := sc.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.HomeDir, path)
		}
		schemaFiles = append(schemaFiles, path)
	}

	switch cfg.Persistence.Backend {
	case "memory":
		return persistence.NewMemoryStore(), schemaFiles
	default:
		path := cfg.Persistence.Path
		if path == "" {
			path = filepath.Join(cfg.HomeDir, "taskhive.db")
		}
		primary, err := persistence.Open(path)
		if err != nil {
			fatalStartup(logger, "E_STORE_OPEN", err)
		}
		return persistence.NewFallbackStore(primary, logger), schemaFiles
	}
}

// reloadSchemas re-reads every configured schema file. A file that no longer
// compiles keeps its previous registration.
func reloadSchemas(cfg config.Config, schemas *schema.Registry, logger *slog.Logger) {
	for _, sc := range cfg.Schemas {
		path := sc.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.HomeDir, path)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("schema reload read failed", "task_type", sc.TaskType, "error", err)
			continue
		}
		if err := schemas.Register(sc.TaskType, raw); err != nil {
			logger.Warn("schema reload rejected; retaining previous schema", "task_type", sc.TaskType, "error", err)
			continue
		}
		logger.Info("task schema hot-reloaded", "task_type", sc.TaskType)
	}
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}
