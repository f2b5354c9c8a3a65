package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/t77yq/solar-scheduler/internal/model"
)

// fileStore keeps the snapshot in a JSON file, written atomically via
// a temp file and rename.
type fileStore struct {
	logger *zap.Logger
	path   string
}

func newFileStore(path string, logger *zap.Logger) (*fileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file persistence requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create persistence directory: %w", err)
	}
	return &fileStore{logger: logger.Named("file-store"), path: path}, nil
}

func (s *fileStore) Load(ctx context.Context) (*model.PersistedState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var state model.PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &state, nil
}

func (s *fileStore) Save(ctx context.Context, state *model.PersistedState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *fileStore) Close() error { return nil }
