// Package daemon provides the auto-sync daemon.
//
// The daemon:
// 1. Runs interval syncs for every provider with auto-sync enabled
// 2. Watches the local task database and triggers a sync when it changes
// 3. Debounces rapid local edits into a single pass
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/taskfuse/taskfuse/internal/appsync"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long local edits must settle before a
	// change-triggered sync runs. Batches rapid updates together.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 2 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates interval and change-triggered sync passes.
type Daemon struct {
	manager *appsync.Manager
	dbPath  string
	config  *Config

	watcher     *fsnotify.Watcher
	lastChange  time.Time
	pendingSync bool
	changeMu    sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon.
//
// The daemon requires:
//   - manager: the configured sync manager
//   - dbPath: path of the local task database to watch for edits
//
// Use Start() to begin syncing.
func New(manager *appsync.Manager, dbPath string, config *Config) (*Daemon, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if dbPath == "" {
		return nil, fmt.Errorf("dbPath cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		manager: manager,
		dbPath:  dbPath,
		config:  config,
		watcher: watcher,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Run an initial pass for every auto-sync provider
// 2. Start an interval ticker per auto-sync provider
// 3. Watch the task database and trigger debounced syncs on change
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting sync daemon")

	providers := d.autoSyncProviders()
	if len(providers) == 0 {
		return fmt.Errorf("no providers have auto_sync enabled")
	}

	// Initial pass so a freshly started daemon converges immediately.
	d.syncAll("startup")

	// Watch the directory, not the file: SQLite swaps WAL files and
	// fsnotify loses file-level watches across renames.
	if err := d.watcher.Add(filepath.Dir(d.dbPath)); err != nil {
		return fmt.Errorf("failed to watch database directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.dbPath)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processPendingSync()

	for _, cfg := range providers {
		d.wg.Add(1)
		go d.intervalLoop(cfg)
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping sync daemon")

	d.cancel()
	d.manager.CancelAllSyncs()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Sync daemon stopped")
	return nil
}

func (d *Daemon) autoSyncProviders() []*appsync.Config {
	var out []*appsync.Config
	for _, cfg := range d.manager.Configs() {
		if cfg.Enabled && cfg.AutoSync {
			out = append(out, cfg)
		}
	}
	return out
}

// intervalLoop runs the periodic pass for one provider.
func (d *Daemon) intervalLoop(cfg *appsync.Config) {
	defer d.wg.Done()

	interval := cfg.SyncInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.syncOne(cfg.Provider, "interval")
		}
	}
}

// watchFileEvents monitors filesystem events and queues a sync.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	base := filepath.Base(d.dbPath)

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			// The database plus its WAL sidecars all mean local edits.
			name := filepath.Base(event.Name)
			if name != base && name != base+"-wal" && name != base+"-shm" {
				continue
			}

			d.queueSync()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueSync records a local change for the debounced sync loop.
func (d *Daemon) queueSync() {
	d.changeMu.Lock()
	defer d.changeMu.Unlock()

	d.lastChange = time.Now()
	d.pendingSync = true
}

// processPendingSync runs change-triggered syncs once edits settle.
func (d *Daemon) processPendingSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.changeMu.Lock()
			due := d.pendingSync && time.Since(d.lastChange) >= d.config.DebounceInterval
			if due {
				d.pendingSync = false
			}
			d.changeMu.Unlock()

			if due {
				d.syncAll("local change")
			}
		}
	}
}

// syncAll runs a pass for every auto-sync provider.
func (d *Daemon) syncAll(reason string) {
	d.config.Logger.Printf("Sync triggered (%s)", reason)
	for _, cfg := range d.autoSyncProviders() {
		d.syncOne(cfg.Provider, reason)
	}
}

// syncOne runs a pass for one provider, tolerating in-progress overlap.
func (d *Daemon) syncOne(provider appsync.Provider, reason string) {
	result, err := d.manager.SyncProvider(d.ctx, provider)
	if err != nil {
		if appsync.IsSyncInProgress(err) {
			d.config.Logger.Printf("%s: pass already running, skipping %s sync", provider, reason)
			return
		}
		d.config.Logger.Printf("%s: sync failed: %v", provider, err)
		return
	}
	d.config.Logger.Printf("%s: %s sync finished with status %s", provider, reason, result.Status)
}
