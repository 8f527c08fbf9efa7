package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/floorbook/floorbook/internal/tablesrv/blobstore"
	"github.com/floorbook/floorbook/internal/tablesrv/config"
	"github.com/floorbook/floorbook/internal/tablesrv/db"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
	"github.com/floorbook/floorbook/internal/tablesrv/tablemanager"
)

// loadEnv loads KEY=value pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// withDb opens the connection pool for the duration of fn.
func withDb(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := db.Init(ctx); err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Shutdown()
	return fn(ctx)
}

// newEngine returns a table engine over the open pool. File cells are
// backed by S3 when the configuration names a bucket.
func newEngine(ctx context.Context) (*tablemanager.Engine, error) {
	var opts []tablemanager.Option
	if bc := config.Config().BlobStore; bc.Bucket != "" {
		store, err := blobstore.NewS3Store(ctx, bc)
		if err != nil {
			return nil, fmt.Errorf("creating blob store: %w", err)
		}
		opts = append(opts, tablemanager.WithBlobStore(store))
	} else {
		log.Ctx(ctx).Debug().Msg("no blob store configured, file cells are read only")
	}
	return tablemanager.New(opts...), nil
}

// actorFromFlags builds the acting principal from the --tenant and --user
// flags.
func actorFromFlags(tenant, user string) (tablecommon.Actor, error) {
	a := tablecommon.Actor{TenantID: tablecommon.TenantId(tenant), UserID: tablecommon.UserId(user)}
	if !a.IsValid() {
		return a, fmt.Errorf("--tenant and --user are required")
	}
	return a, nil
}
