package cli

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/pbtransfer/internal/client"
	"github.com/raphaelgruber/pbtransfer/internal/config"
	"github.com/raphaelgruber/pbtransfer/internal/db"
	"github.com/raphaelgruber/pbtransfer/internal/store"
)

// openStore connects to one endpoint. The returned close function is never nil.
func openStore(ctx context.Context, ep config.Endpoint, role string) (store.Client, func(), error) {
	log := logger.With("role", role)

	switch ep.Store {
	case config.StoreSurrealDB:
		c, err := db.NewClient(ctx, db.Config{
			URL:       ep.URL,
			Namespace: ep.Namespace,
			Database:  ep.Database,
			Username:  ep.User,
			Password:  ep.Password,
			AuthLevel: ep.AuthLevel,
		}, log)
		if err != nil {
			return nil, func() {}, fmt.Errorf("connect %s: %w", role, err)
		}
		closeFn := func() {
			if err := c.Close(context.Background()); err != nil {
				logger.Warn("failed to close database", "role", role, "error", err)
			}
		}
		// The attachment table must exist before the first upload.
		if err := c.Authenticate(ctx); err != nil {
			closeFn()
			return nil, func() {}, fmt.Errorf("authenticate %s: %w", role, err)
		}
		if err := c.InitSchema(ctx); err != nil {
			closeFn()
			return nil, func() {}, err
		}
		return c, closeFn, nil

	default:
		c, err := client.New(client.Config{
			URL:            ep.URL,
			Email:          ep.User,
			Password:       ep.Password,
			RequestTimeout: cfg.RequestTimeout,
			MaxRetries:     cfg.MaxRetries,
		}, log)
		if err != nil {
			return nil, func() {}, fmt.Errorf("%s: %w", role, err)
		}
		return c, func() {}, nil
	}
}
