// MajorDoMo Bridge
//
// This is the main entry point for the bridge daemon. It connects AI-agent
// natural-language commands (and a few operator channels) to a MajorDoMo
// home-automation controller:
//   - MCP websocket pipe to the agent endpoint
//   - Telegram bot, MQTT broker and web panel for operators
//   - Time-based scheduler for recurring and one-shot tasks
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	_ "github.com/golnet1/majordomo-bridge/migrations"

	"github.com/golnet1/majordomo-bridge/internal/audit"
	"github.com/golnet1/majordomo-bridge/internal/catalog"
	"github.com/golnet1/majordomo-bridge/internal/channels/mqttchan"
	"github.com/golnet1/majordomo-bridge/internal/channels/scheduler"
	"github.com/golnet1/majordomo-bridge/internal/channels/telegram"
	"github.com/golnet1/majordomo-bridge/internal/controller"
	"github.com/golnet1/majordomo-bridge/internal/infrastructure/config"
	"github.com/golnet1/majordomo-bridge/internal/infrastructure/database"
	"github.com/golnet1/majordomo-bridge/internal/infrastructure/influxdb"
	"github.com/golnet1/majordomo-bridge/internal/infrastructure/logging"
	"github.com/golnet1/majordomo-bridge/internal/infrastructure/mqtt"
	"github.com/golnet1/majordomo-bridge/internal/pipe"
	"github.com/golnet1/majordomo-bridge/internal/resolver"
	"github.com/golnet1/majordomo-bridge/internal/router"
	"github.com/golnet1/majordomo-bridge/internal/update"
	"github.com/golnet1/majordomo-bridge/internal/webpanel"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting MajorDoMo bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Long-running goroutines: catalog watcher, agent pipe, Telegram bot.
	// The extra waiter keeps the daemon alive when all of them are
	// disabled, since the panel, scheduler and MQTT channel run on their
	// own goroutines.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	// Alias catalog
	catalogStore, err := catalog.NewStore(cfg.Catalog.Path, log.With("component", "catalog"))
	if err != nil {
		return fmt.Errorf("loading alias catalog: %w", err)
	}
	log.Info("alias catalog loaded",
		"path", cfg.Catalog.Path,
		"entries", catalogStore.Current().Len(),
	)
	if cfg.Catalog.Watch {
		// Watch blocks until shutdown, so it gets its own goroutine. A
		// watcher that cannot start is not fatal; edits then need a
		// restart or a panel reload.
		group.Go(func() error {
			if watchErr := catalogStore.Watch(groupCtx); watchErr != nil {
				log.Warn("catalog watch unavailable, edits need a restart or panel reload", "error", watchErr)
			}
			return nil
		})
	}

	// Database and audit trail
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	auditRepo := audit.NewSQLiteRepository(db.DB)

	// MajorDoMo controller client
	ctrl := controller.New(cfg.Controller)

	// Telegram bot doubles as the audit failure notifier, so it is created
	// before the recorder even though it dispatches through the router.
	var bot *telegram.Bot
	var notifier audit.Notifier
	dispatchProxy := &dispatcherProxy{}
	if cfg.Telegram.Enabled {
		bot = telegram.New(cfg.Telegram, dispatchProxy, log)
		notifier = bot
	}

	recorder := audit.NewRecorder(auditRepo, notifier, cfg.Audit.BufferSize, log)
	defer func() {
		log.Info("flushing audit recorder")
		recorder.Close()
	}()

	// Dispatch telemetry (optional)
	var telemetry router.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB, log)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		telemetry = influxClient
	}

	// Command router, the funnel every channel goes through
	dispatcher := router.New(resolver.New(catalogStore), ctrl, recorder, telemetry, log)
	dispatchProxy.set(dispatcher)

	// Shared cron for retention pruning, schedule ticks and update checks
	cr := cron.New()
	if err := audit.RegisterRetention(cr, auditRepo, cfg.Audit.RetentionDays, log); err != nil {
		return fmt.Errorf("registering audit retention: %w", err)
	}

	// Scheduler channel (optional)
	var schedStore *scheduler.Store
	if cfg.Scheduler.Enabled {
		schedStore = scheduler.NewStore(cfg.Scheduler.Path)
		schedService := scheduler.NewService(schedStore, dispatcher, log)
		schedService.Start()
		defer func() {
			log.Info("stopping scheduler")
			schedService.Stop()
		}()
		log.Info("scheduler started", "path", cfg.Scheduler.Path)
	}

	// MQTT channel (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT, log)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		channel := mqttchan.New(mqttClient, dispatcher, mqttClient.Topics(), byte(cfg.MQTT.QoS), log)
		if startErr := channel.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT channel: %w", startErr)
		}
	}

	// Update checker (optional)
	var updates *update.Checker
	if cfg.Update.Enabled && cfg.Update.Repo != "" {
		updates = update.New(cfg.Update.Repo, version, log)
		updates.RegisterDailyCheck(cr)
		go updates.Check(ctx)
	}

	cr.Start()
	defer cr.Stop()

	// Web panel (optional)
	if cfg.WebPanel.Enabled {
		panel, panelErr := webpanel.New(webpanel.Deps{
			Config:      cfg.WebPanel,
			Logger:      log,
			Dispatcher:  dispatcher,
			Catalog:     catalogStore,
			CatalogPath: cfg.Catalog.Path,
			AuditRepo:   auditRepo,
			Schedule:    schedStore,
			Updates:     updates,
			Version:     version,
		})
		if panelErr != nil {
			return fmt.Errorf("creating web panel: %w", panelErr)
		}
		if startErr := panel.Start(ctx); startErr != nil {
			return fmt.Errorf("starting web panel: %w", startErr)
		}
		defer func() {
			log.Info("stopping web panel")
			if closeErr := panel.Close(); closeErr != nil {
				log.Error("error closing web panel", "error", closeErr)
			}
		}()
	}

	if cfg.Pipe.Endpoint != "" {
		tools := pipe.NewTools(dispatcher, catalogStore, schedStore, ctrl, log)
		agentPipe := pipe.New(pipeOptions(cfg.Pipe), tools, log)
		group.Go(func() error {
			return ignoreCancel(agentPipe.Run(groupCtx))
		})
	} else {
		log.Warn("pipe endpoint not configured, agent transport disabled")
	}

	if bot != nil {
		group.Go(func() error {
			return ignoreCancel(bot.Run(groupCtx))
		})
	}

	log.Info("initialisation complete")

	if err := group.Wait(); err != nil {
		return err
	}

	log.Info("MajorDoMo bridge stopped")
	return nil
}

// pipeOptions maps the config section to pipe options.
func pipeOptions(cfg config.PipeConfig) pipe.Options {
	backoff := pipe.DefaultBackoff
	if cfg.Reconnect.InitialDelay > 0 {
		backoff.Floor = time.Duration(cfg.Reconnect.InitialDelay) * time.Second
	}
	if cfg.Reconnect.MaxDelay > 0 {
		backoff.Ceiling = time.Duration(cfg.Reconnect.MaxDelay) * time.Second
	}
	backoff.Jitter = cfg.Reconnect.Jitter

	opts := pipe.Options{
		Endpoint: cfg.Endpoint,
		Backoff:  backoff,
		Version:  version,
	}
	if cfg.MaxMessageSize > 0 {
		opts.MaxMessageSize = int64(cfg.MaxMessageSize)
	}
	if cfg.PingInterval > 0 {
		opts.PingInterval = time.Duration(cfg.PingInterval) * time.Second
	}
	return opts
}

// dispatcherProxy breaks the construction cycle between the Telegram bot
// (created early so it can serve as audit notifier) and the router it
// dispatches through. set must be called before any command arrives.
type dispatcherProxy struct {
	dispatcher telegram.Dispatcher
}

func (p *dispatcherProxy) set(d telegram.Dispatcher) {
	p.dispatcher = d
}

func (p *dispatcherProxy) Dispatch(ctx context.Context, intent router.CommandIntent) router.CommandResult {
	return p.dispatcher.Dispatch(ctx, intent)
}

// ignoreCancel maps context cancellation to a clean exit.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// getConfigPath returns the configuration file path.
// Uses the MDBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MDBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
