package ingest

import (
	"context"
	"fmt"

	"github.com/lgulliver/revvault/internal/bundle"
	"github.com/lgulliver/revvault/internal/events"
	"github.com/lgulliver/revvault/internal/layout"
	"github.com/lgulliver/revvault/internal/ledger"
	"github.com/lgulliver/revvault/internal/storage"
	"github.com/lgulliver/revvault/internal/upstream"
	"github.com/lgulliver/revvault/pkg/config"
	"github.com/rs/zerolog/log"
)

// Components holds everything built from one configuration
type Components struct {
	Store      storage.BlobStorage
	Layout     *layout.Manager
	Dispatcher *events.Dispatcher
	Ledger     *ledger.Store
	Service    *Service
}

// Close releases connections held by the components
func (c *Components) Close() {
	if c.Ledger != nil {
		if err := c.Ledger.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close ledger")
		}
	}
	closeStore(c.Store)
}

func closeStore(store storage.BlobStorage) {
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close storage")
		}
	}
}

// Build validates cfg and constructs storage, the layout manager, the
// upstream client, the dispatcher and, when enabled, the ledger
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := storage.NewStorageFactory(&cfg.Storage).CreateStorage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	client, err := upstream.NewClient(ctx, &cfg.Upstream)
	if err != nil {
		closeStore(store)
		return nil, fmt.Errorf("failed to initialize upstream client: %w", err)
	}

	return assemble(cfg, store, client)
}

// assemble wires the components around an existing store and fetcher. It
// owns store from here on and closes it when wiring fails.
func assemble(cfg *config.Config, store storage.BlobStorage, fetcher events.Fetcher) (*Components, error) {
	c := &Components{Store: store}
	c.Layout = layout.NewManager(store, cfg.Storage.Concurrency)
	c.Dispatcher = events.NewDispatcher(cfg.Upstream.Org, fetcher, bundle.NewRewriter(), c.Layout)

	var recorder Recorder
	if cfg.Database.Enabled {
		db, err := ledger.Open(&cfg.Database)
		if err != nil {
			closeStore(store)
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			closeStore(store)
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		c.Ledger = db
		recorder = db
	}

	c.Service = NewService(c.Dispatcher, recorder)

	log.Info().
		Str("org", cfg.Upstream.Org).
		Str("storage", cfg.Storage.Type).
		Bool("ledger", cfg.Database.Enabled).
		Msg("ingest pipeline ready")
	return c, nil
}
