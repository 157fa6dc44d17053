/*
main.go - the offline core's process entrypoint.

Grounded on the resource-accounting engine's cmd/server/main.go startup sequence (flags,
store, handler, router, graceful shutdown on SIGINT/SIGTERM) and on
cuemby-warren/cmd/warren/main.go's cobra layout (rootCmd with
PersistentFlags, cobra.OnInitialize for logging, one subcommand per
operator action) for the CLI shape a single-ledger HR tool never
needed but an unattended terminal process does.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldstack/terminal-core/api"
	"github.com/fieldstack/terminal-core/catalog"
	"github.com/fieldstack/terminal-core/config"
	"github.com/fieldstack/terminal-core/gateway"
	"github.com/fieldstack/terminal-core/imagecache"
	"github.com/fieldstack/terminal-core/logging"
	"github.com/fieldstack/terminal-core/network"
	"github.com/fieldstack/terminal-core/pairing"
	"github.com/fieldstack/terminal-core/queue"
	"github.com/fieldstack/terminal-core/store/sqlite"
	"github.com/fieldstack/terminal-core/sync"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "terminald",
	Short: "Offline-first data and synchronization core for a POS terminal",
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a JSON config file")
	rootCmd.PersistentFlags().String("data-dir", "", "override the configured data directory")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(vacuumCmd)
	rootCmd.AddCommand(statusCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	asJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	logging.Init(logging.Config{Level: level, JSON: asJSON})
}

// loadConfig resolves the config file and any --data-dir override
// common to every subcommand.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	return cfg, nil
}

// orphanRecoveryMaxAge is how long an operation may sit in SENDING
// before a startup sweep assumes the process crashed mid-send and
// resets it back to PENDING.
const orphanRecoveryMaxAge = 5 * time.Minute

// purgeSweepInterval is how often serveCmd sweeps SENT operations past
// the configured retention window.
const purgeSweepInterval = 6 * time.Hour

// deps bundles every component a subcommand might need, wired once
// per invocation and torn down by the caller.
type deps struct {
	store   *sqlite.Store
	cache   *catalog.Cache
	queue   *queue.Queue
	pairing *pairing.Pairing
	monitor *network.Monitor
	engine  *sync.Engine
	guard   *sync.ExposureGuard
	gateway *gateway.Gateway
	backups *sqlite.BackupScheduler
}

func wire(ctx context.Context, cfg config.Config) (*deps, error) {
	dbPath := filepath.Join(cfg.DataDir, "terminal.db")
	backupDir := filepath.Join(cfg.DataDir, "backups")
	imageDir := filepath.Join(cfg.DataDir, "cached_images")

	store, err := sqlite.Open(ctx, dbPath, backupDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	p := pairing.New(store)
	if cfg.APIKey != "" {
		if err := p.SetAPIKey(ctx, cfg.APIKey); err != nil {
			return nil, fmt.Errorf("set api key from config: %w", err)
		}
	}
	cache := catalog.New(store, p)
	q := queue.New(store, p, p)

	var mon *network.Monitor
	var engine *sync.Engine
	var guard *sync.ExposureGuard

	if cfg.BackendURL != "" {
		backend := sync.NewHTTPBackend(cfg.BackendURL, p, cfg.HTTPTimeout())
		engine = sync.New(cache, q, p, backend, cfg.SyncInterval())
		guard = sync.NewExposureGuard(p, cfg.OfflineTransactionCap, cfg.OfflineDailyCap, cfg.OfflineTransactionCountCap)

		if cfg.BackendURL != "" {
			healthURL := cfg.BackendURL + "/v1/health"
			mon = network.New(healthURL, cfg.HealthProbeInterval(), cfg.HealthProbeTimeout(),
				cfg.ConsecutiveFailuresToOffline, p)
			mon.OnReconnect = func() {
				if err := engine.VerifyAuth(context.Background()); err == nil {
					engine.TriggerDrain()
				}
			}
		}
	}

	images := imagecache.New(imageDir)
	cache.SetImageCache(images)

	gw := gateway.New(store, cache, q, p, mon, engine, guard)
	gw.SetImageCache(images)

	backups := sqlite.NewBackupScheduler(store, backupDir, cfg.BackupInterval(), cfg.MaxBackupsToKeep, 0)

	return &deps{
		store: store, cache: cache, queue: q, pairing: p, monitor: mon,
		engine: engine, guard: guard, gateway: gw, backups: backups,
	}, nil
}

func (d *deps) Close() {
	if d.store != nil {
		d.store.Close()
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway and background sync loops",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		port, _ := cmd.Flags().GetInt("port")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d, err := wire(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		if n, err := d.queue.RecoverOrphans(ctx, orphanRecoveryMaxAge); err != nil {
			logging.Base.Warn().Err(err).Msg("orphan recovery failed")
		} else if n > 0 {
			logging.Base.Info().Int("count", n).Msg("recovered orphaned operations at startup")
		}

		if d.monitor != nil {
			d.monitor.Start(ctx)
			defer d.monitor.Stop()
		}
		if d.engine != nil {
			d.engine.Start(ctx)
			defer d.engine.Stop()
		}
		if d.backups != nil {
			d.backups.Start(ctx)
			defer d.backups.Stop()
		}

		purgeStop := startPurgeLoop(ctx, d.queue, cfg.SentOperationRetention())
		defer close(purgeStop)

		if cfg.AutoSyncEnabled && d.engine != nil {
			go func() {
				if err := d.engine.VerifyAuth(ctx); err != nil {
					logging.Base.Warn().Err(err).Msg("initial auth verification failed, sync paused until re-paired")
				}
			}()
		}

		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      api.NewRouter(d.gateway),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			logging.Base.Info().Int("port", port).Msg("terminald listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Base.Fatal().Err(err).Msg("server failed")
			}
		}()

		<-ctx.Done()
		logging.Base.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		logging.Base.Info().Msg("stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 8080, "HTTP server port")
}

// startPurgeLoop sweeps SENT operations past retention on a fixed
// interval, returning a channel the caller closes to stop it.
func startPurgeLoop(ctx context.Context, q *queue.Queue, retention time.Duration) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(purgeSweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := q.Purge(ctx, retention); err != nil {
					logging.Base.Warn().Err(err).Msg("purge sweep failed")
				} else if n > 0 {
					logging.Base.Info().Int("count", n).Msg("purged retained sent operations")
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return stop
}

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Bind this terminal to a tenant, location, and api key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		terminalID, _ := cmd.Flags().GetString("terminal-id")
		tenantID, _ := cmd.Flags().GetString("tenant-id")
		locationID, _ := cmd.Flags().GetString("location-id")
		apiKey, _ := cmd.Flags().GetString("api-key")
		if terminalID == "" || tenantID == "" || locationID == "" {
			return fmt.Errorf("--terminal-id, --tenant-id, and --location-id are required")
		}

		ctx := context.Background()
		d, err := wire(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.pairing.Pair(ctx, pairing.Info{TerminalID: terminalID, TenantID: tenantID, LocationID: locationID}); err != nil {
			return fmt.Errorf("pair: %w", err)
		}
		if apiKey != "" {
			if err := d.pairing.SetAPIKey(ctx, apiKey); err != nil {
				return fmt.Errorf("store api key: %w", err)
			}
		}
		fmt.Println("paired:", terminalID)
		return nil
	},
}

func init() {
	pairCmd.Flags().String("terminal-id", "", "this terminal's identifier")
	pairCmd.Flags().String("tenant-id", "", "owning tenant identifier")
	pairCmd.Flags().String("location-id", "", "owning location identifier")
	pairCmd.Flags().String("api-key", "", "server-issued api key, if already known")
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take an immediate backup and prune old ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := context.Background()
		d, err := wire(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		path, err := d.store.BackupNow(ctx)
		if err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		if err := d.store.PruneBackups(filepath.Join(cfg.DataDir, "backups"), cfg.MaxBackupsToKeep, 0, time.Now().UTC()); err != nil {
			logging.Base.Warn().Err(err).Msg("backup taken but prune failed")
		}
		fmt.Println("backup written:", path)
		return nil
	},
}

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Reclaim disk space after heavy delete/update traffic",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := context.Background()
		d, err := wire(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.store.Vacuum(ctx); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
		fmt.Println("vacuum complete")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print pairing, queue, and sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := context.Background()
		d, err := wire(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		paired, gerr := d.gateway.IsPaired(ctx)
		if gerr != nil {
			return fmt.Errorf("status: %w", gerr)
		}
		fmt.Println("paired:", paired)
		if !paired {
			return nil
		}

		stats, gerr := d.gateway.GetCompleteStats(ctx)
		if gerr != nil {
			return fmt.Errorf("status: %w", gerr)
		}
		fmt.Printf("online: %v\n", stats.Online)
		fmt.Printf("queue: pending=%d sending=%d sent=%d failed=%d conflict=%d\n",
			stats.Queue.Pending, stats.Queue.Sending, stats.Queue.Sent, stats.Queue.Failed, stats.Queue.Conflict)
		fmt.Printf("exposure: cash=%s card=%s count=%d\n",
			stats.Exposure.CashTotal.String(), stats.Exposure.CardTotal.String(), stats.Exposure.TransactionCount)
		return nil
	},
}
