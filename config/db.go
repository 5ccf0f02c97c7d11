package config

import (
	"fmt"

	"github.com/incubed/in3-go/light/store"
	dbs "github.com/incubed/in3-go/light/store/db"
	"github.com/incubed/in3-go/light/store/file"
)

// StoreProvider takes a config and returns an instantiated store.
type StoreProvider func(*Config) (store.Store, error)

// DefaultStoreProvider returns a store using the StoreBackend and StoreDir
// specified in the Config.
func DefaultStoreProvider(cfg *Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case StoreBackendMem:
		return dbs.NewMem(), nil
	case StoreBackendLevelDB:
		return dbs.Open("in3", cfg.StoreDir())
	case StoreBackendFile:
		return file.New(cfg.StoreDir())
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
