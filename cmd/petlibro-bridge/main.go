// PetLibro Bridge
//
// This is the main entry point for the PetLibro bridge. It logs in to the
// PetLibro cloud account, discovers the account's feeders and fountains,
// and exposes each one as an entity over MQTT and an HTTP/WebSocket API:
//   - Feeders get a momentary "on" switch that dispenses one manual feed
//   - Fountains get a read-only "water_level" percentage, polled
//
// Usage:
//
//	petlibro-bridge                          run the bridge
//	petlibro-bridge token -subject NAME      print an API bearer token
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/petlibro-bridge/migrations"

	"github.com/nerrad567/petlibro-bridge/internal/api"
	"github.com/nerrad567/petlibro-bridge/internal/device"
	"github.com/nerrad567/petlibro-bridge/internal/discovery"
	"github.com/nerrad567/petlibro-bridge/internal/driver"
	"github.com/nerrad567/petlibro-bridge/internal/host"
	"github.com/nerrad567/petlibro-bridge/internal/infrastructure/config"
	"github.com/nerrad567/petlibro-bridge/internal/infrastructure/database"
	"github.com/nerrad567/petlibro-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/petlibro-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/petlibro-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/petlibro-bridge/internal/petlibro"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting PetLibro bridge",
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
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Entity cache
	registry := device.NewRegistry(device.NewSQLiteRepository(db))
	registry.SetLogger(log.Component("registry"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading entity cache: %w", refreshErr)
	}
	log.Info("entity cache loaded", "entities", registry.Count())

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
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
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	if cfg.PetLibro.Email == "" || cfg.PetLibro.Password == "" {
		log.Warn("PetLibro email or password not configured; discovery will be skipped")
	}
	client := petlibro.NewClient(petlibro.Config{
		BaseURL:  cfg.PetLibro.APIEndpoint,
		Email:    cfg.PetLibro.Email,
		Password: cfg.PetLibro.Password,
		Country:  cfg.PetLibro.Country,
		Timezone: cfg.PetLibro.Timezone,
	}, log.Component("petlibro"))

	factory := &driver.Factory{
		Vendor:       client,
		Portions:     cfg.PetLibro.Portions,
		PollInterval: cfg.GetFountainPollingInterval(),
		Logger:       log.Component("driver"),
	}
	if influxClient != nil {
		factory.Metrics = influxClient
	}

	// Long-running members: the websocket hub, the API server and the
	// discovery loop. The first failure cancels gctx and begins shutdown.
	g, gctx := errgroup.WithContext(ctx)

	// The hub outlives the API server so host broadcasts never race its shutdown.
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.Component("websocket"))
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
	}

	hostCfg := host.Config{
		Store:  registry,
		QoS:    byte(cfg.MQTT.QoS),
		Logger: log.Component("host"),
	}
	if mqttClient != nil {
		hostCfg.MQTT = mqttClient
	}
	if hub != nil {
		hostCfg.WebSocket = hub
	}
	platform := host.New(hostCfg)
	if startErr := platform.Start(); startErr != nil {
		return fmt.Errorf("starting host platform: %w", startErr)
	}
	defer func() {
		log.Info("closing host platform")
		platform.Close()
	}()
	if mqttClient != nil {
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected, republishing entities")
			platform.Republish()
		})
	}

	reconciler := discovery.NewReconciler(discovery.Config{
		Session:   client.Session(),
		Inventory: client,
		Factory:   factory,
		Host:      platform,
		Logger:    log.Component("discovery"),
	})
	defer reconciler.Close()

	restored := platform.Restore(ctx, reconciler)
	log.Info("cached entities restored", "count", restored)

	var server *api.Server
	if cfg.API.Enabled {
		server, err = api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Security:   cfg.Security,
			Logger:     log.Component("api"),
			Reconciler: reconciler,
			Session:    client.Session(),
			Hub:        hub,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		g.Go(func() error {
			return server.Wait(gctx)
		})
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	g.Go(func() error {
		reconciler.Run(gctx, cfg.GetDiscoveryInterval())
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal")
	<-gctx.Done()
	log.Info("shutting down, cleaning up")

	// An in-flight pass aborts with the context; wait for it before the
	// deferred closes run (reverse start order).
	if waitErr := g.Wait(); waitErr != nil {
		log.Error("bridge stopped on error", "error", waitErr)
		return waitErr
	}

	log.Info("PetLibro bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PETLIBRO_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PETLIBRO_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the started infrastructure is healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (nil if disabled)
//   - influxClient: InfluxDB client to check (nil if disabled)
//   - server: API server to check (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, server *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if server != nil {
		if err := server.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}
	return nil
}

// runToken prints a bearer token for the HTTP API, signed with the
// configured security.jwt.secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "", "who the token is for (required)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("-subject is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret is not set; the API is unauthenticated")
	}

	token, err := api.IssueToken(cfg.Security.JWT.Secret, *subject, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
