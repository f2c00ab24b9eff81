// Package staging manages per-event scratch space on local disk.
//
// Every event gets a private directory holding exactly two files: the
// downloaded source object and the resized output waiting for upload.
// Directories are removed wholesale on release, so a crashed step can
// never leak a stray file into the next event's view.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Paths holds the local file locations reserved for one event.
type Paths struct {
	// Dir is the event's private scratch directory.
	Dir string
	// Download receives the fetched source object.
	Download string
	// Upload receives the resized output before it is stored.
	Upload string
}

// Area hands out isolated scratch directories under a common root.
// Directories are tracked by object key so Release can find them again.
// Safe for concurrent use.
type Area struct {
	root string

	mu     sync.Mutex
	leases map[string]string // object key -> scratch dir
}

// New creates an Area rooted at root. An empty root means the system
// temp dir, which on Lambda is the writable /tmp.
func New(root string) *Area {
	if root == "" {
		root = os.TempDir()
	}
	return &Area{root: root, leases: make(map[string]string)}
}

// Acquire reserves a fresh scratch directory for the given object key
// and returns the file paths inside it. Every call gets a new directory
// named with a random token, so two events for the same key, or two
// invocations sharing /tmp, never collide.
func (a *Area) Acquire(key string) (Paths, error) {
	base := filepath.Base(key)
	dir := filepath.Join(a.root, "stage-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create staging dir %s: %w", dir, err)
	}

	a.mu.Lock()
	a.leases[key] = dir
	a.mu.Unlock()

	log.Debug().Str("key", key).Str("dir", dir).Msg("Staging dir acquired")
	return Paths{
		Dir:      dir,
		Download: filepath.Join(dir, base),
		Upload:   filepath.Join(dir, "resized-"+base),
	}, nil
}

// Release removes the scratch directory reserved for key. Removal is
// best effort: failures are logged and swallowed so cleanup can never
// mask the event's real outcome. Releasing an unknown or already
// released key is a no-op.
func (a *Area) Release(key string) {
	a.mu.Lock()
	dir, ok := a.leases[key]
	delete(a.leases, key)
	a.mu.Unlock()
	if !ok {
		return
	}

	if err := os.RemoveAll(dir); err != nil {
		log.Warn().Err(err).Str("key", key).Str("dir", dir).Msg("Failed to remove staging dir")
		return
	}
	log.Debug().Str("key", key).Str("dir", dir).Msg("Staging dir released")
}
