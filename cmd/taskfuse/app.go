package main

import (
	"fmt"
	"log"
	"os"

	"github.com/taskfuse/taskfuse/internal/appsync"
	"github.com/taskfuse/taskfuse/internal/appsync/mapstore"
	"github.com/taskfuse/taskfuse/internal/config"
	"github.com/taskfuse/taskfuse/internal/credentials"
	"github.com/taskfuse/taskfuse/internal/storage"

	// Provider adapters register themselves on import.
	_ "github.com/taskfuse/taskfuse/internal/appsync/providers/taskdir"
	_ "github.com/taskfuse/taskfuse/internal/appsync/providers/todoist"
)

// app bundles the wired-up services a command needs.
type app struct {
	cfg     *config.Config
	todos   *storage.Store
	maps    *mapstore.Store
	creds   *credentials.Store
	manager *appsync.Manager
}

// openApp loads config and opens every store. Callers must call close()
// when done.
func openApp(logger *log.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	todos, err := storage.Open(cfg.TodoDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening task database: %w", err)
	}

	maps, err := mapstore.Open(cfg.MappingDBPath())
	if err != nil {
		_ = todos.Close()
		return nil, fmt.Errorf("opening sync database: %w", err)
	}

	creds, err := credentials.Open(cfg.CredentialsPath())
	if err != nil {
		_ = todos.Close()
		_ = maps.Close()
		return nil, fmt.Errorf("opening credentials: %w", err)
	}

	manager := appsync.New(todos, maps, creds, logger)
	for _, pc := range cfg.SyncConfigs() {
		manager.Configure(pc)
	}

	return &app{
		cfg:     cfg,
		todos:   todos,
		maps:    maps,
		creds:   creds,
		manager: manager,
	}, nil
}

func (a *app) close() {
	_ = a.maps.Close()
	_ = a.todos.Close()
}

// fatal prints an error and exits.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
