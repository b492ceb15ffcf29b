package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Catalog is the ordered record of known archives. The catalog file is a
// cache: the archive directories with their manifests are ground truth, and
// every load reconciles the file against a directory scan, scan winning.
// Mutations are serialized and persisted write-temp-then-rename.
type Catalog struct {
	dir string

	mu      sync.RWMutex
	entries []Archive // newest first
}

// OpenCatalog loads the catalog for backupDir, rebuilding it from a
// directory scan. A missing catalog file is rebuilt silently; an unreadable
// backup directory is an error the caller should treat as fatal.
func OpenCatalog(backupDir string) (*Catalog, error) {
	c := &Catalog{dir: backupDir}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// reload merges the catalog file with a directory scan and rewrites the
// file if they diverged.
func (c *Catalog) reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The catalog file is never trusted over the manifests: a lost or
	// corrupt catalog.json costs nothing, a stale one could hide archives.
	scanned, err := scanArchives(c.dir)
	if err != nil {
		return fmt.Errorf("catalog: scan %s: %w", c.dir, err)
	}

	c.entries = scanned
	sortNewestFirst(c.entries)
	return c.persistLocked()
}

// scanArchives reads every archive directory's manifest under dir.
func scanArchives(dir string) ([]Archive, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var archives []Archive
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), stagingPrefix) {
			continue
		}
		manifestPath := filepath.Join(dir, entry.Name(), manifestName)
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			continue // not an archive directory, or a crashed partial
		}
		var a Archive
		if err := json.Unmarshal(data, &a); err != nil {
			continue
		}
		if a.ID != entry.Name() {
			// Directory was renamed by hand; trust the directory name.
			a.ID = entry.Name()
		}
		archives = append(archives, a)
	}
	return archives, nil
}

// List returns all archives, newest first.
func (c *Catalog) List() []Archive {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Archive, len(c.entries))
	copy(out, c.entries)
	return out
}

// Get returns the archive with the given ID.
func (c *Catalog) Get(id string) (Archive, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.entries {
		if a.ID == id {
			return a, nil
		}
	}
	return Archive{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Contains reports whether an archive with the given ID is cataloged.
func (c *Catalog) Contains(id string) bool {
	_, err := c.Get(id)
	return err == nil
}

// Append adds a new archive and persists the catalog.
func (c *Catalog) Append(a Archive) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.entries {
		if existing.ID == a.ID {
			return fmt.Errorf("%w: %s", ErrNamingConflict, a.ID)
		}
	}
	c.entries = append(c.entries, a)
	sortNewestFirst(c.entries)
	return c.persistLocked()
}

// Remove drops an archive entry and persists the catalog. The caller is
// responsible for the bytes on disk.
func (c *Catalog) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, a := range c.entries {
		if a.ID == id {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return c.persistLocked()
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// NewestVerified returns the most recent archive with StatusVerified.
func (c *Catalog) NewestVerified() (Archive, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.entries {
		if a.Status == StatusVerified {
			return a, true
		}
	}
	return Archive{}, false
}

// persistLocked writes the catalog file atomically. Callers hold c.mu.
func (c *Catalog) persistLocked() error {
	doc := struct {
		Archives []Archive `json:"archives"`
	}{Archives: c.entries}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return mapDiskErr(err)
	}
	tmp := filepath.Join(c.dir, catalogName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return mapDiskErr(err)
	}
	if err := os.Rename(tmp, filepath.Join(c.dir, catalogName)); err != nil {
		_ = os.Remove(tmp)
		return mapDiskErr(err)
	}
	return nil
}

func sortNewestFirst(archives []Archive) {
	sort.SliceStable(archives, func(i, j int) bool {
		if archives[i].CreatedAt.Equal(archives[j].CreatedAt) {
			return archives[i].ID > archives[j].ID
		}
		return archives[i].CreatedAt.After(archives[j].CreatedAt)
	})
}

// writeManifest serializes an archive's manifest into dir.
func writeManifest(dir string, a *Archive) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, manifestName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return mapDiskErr(err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, manifestName)); err != nil {
		_ = os.Remove(tmp)
		return mapDiskErr(err)
	}
	return nil
}
