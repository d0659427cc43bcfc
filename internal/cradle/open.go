package cradle

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"Cradle-storage/internal/config"
	"Cradle-storage/internal/driver"
	"Cradle-storage/internal/durationcache"
	"Cradle-storage/internal/storage"
)

// Open builds a storage over the backend named in cfg. The result still
// needs Init.
func Open(cfg *config.Config, log hclog.Logger) (*Storage, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	var store storage.Storage
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		store = storage.NewMemoryStorage()
	case "bolt":
		path := filepath.Join(cfg.DataDir, cfg.Instance+".db")
		bs, err := storage.NewBoltStorage(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt storage: %w", err)
		}
		store = bs
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}

	durations, err := durationcache.New(cfg.Cache.DurationEntries)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create duration cache: %w", err)
	}
	log.Info("storage backend opened", "backend", cfg.Backend, "instance", cfg.Instance)
	return New(driver.New(store, cfg, durations, log.Named("driver")), cfg, log), nil
}
