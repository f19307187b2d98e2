package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
)

var (
	sharedOnce sync.Once
	sharedInst *Store
	sharedErr  error
	// ErrDataDirNotConfigured indicates the data directory is empty.
	ErrDataDirNotConfigured = errors.New("data_dir is not configured")
)

// Shared returns a process-wide store handle under dataDir for reuse. The
// first caller's dataDir wins.
func Shared(dataDir string) (*Store, error) {
	sharedOnce.Do(func() {
		dataDir = strings.TrimSpace(dataDir)
		if dataDir == "" {
			sharedErr = ErrDataDirNotConfigured
			return
		}
		dbPath := filepath.Join(dataDir, "quorum.db")
		sharedInst, sharedErr = NewStore(dbPath, nil)
	})
	return sharedInst, sharedErr
}
