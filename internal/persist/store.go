package persist

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/solar-scheduler/internal/model"
)

// Store reads and writes the persisted schedule snapshot.
type Store interface {
	// Load reads the snapshot. A missing snapshot returns (nil, nil).
	Load(ctx context.Context) (*model.PersistedState, error)

	// Save writes the snapshot, replacing any previous one.
	Save(ctx context.Context, state *model.PersistedState) error

	Close() error
}

// Config selects and parameterizes the store backend.
type Config struct {
	// Backend is one of "none", "file" or "sqlite".
	Backend string `mapstructure:"backend"`
	// Path is the snapshot file or database path.
	Path string `mapstructure:"path"`
}

// Open builds the configured store. An unknown backend is an error;
// the caller decides whether to run without persistence.
func Open(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "none":
		return noopStore{}, nil
	case "file":
		return newFileStore(cfg.Path, logger)
	case "sqlite":
		return newSQLiteStore(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unknown persistence backend '%s'", cfg.Backend)
	}
}

// noopStore discards saves and restores nothing.
type noopStore struct{}

func (noopStore) Load(context.Context) (*model.PersistedState, error)  { return nil, nil }
func (noopStore) Save(context.Context, *model.PersistedState) error    { return nil }
func (noopStore) Close() error                                         { return nil }
