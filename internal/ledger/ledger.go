package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	fileutil "gcodesync/internal/file"
)

// Ledger answers whether an order's file has already been synced.
// The default implementation is the download directory itself, but the
// interface allows plugging a manifest or a database later.
type Ledger interface {
	AlreadyDownloaded(name string) bool
	Record(name string) error
}

// Kind names a ledger backend in configuration.
type Kind string

const (
	KindDir      Kind = "dir"
	KindManifest Kind = "manifest"
)

// Dir treats the presence of <dir>/<name> as the only record.
type Dir struct {
	dir string
}

func NewDir(dir string) *Dir {
	return &Dir{dir: dir}
}

func (d *Dir) AlreadyDownloaded(name string) bool {
	return fileutil.Exists(filepath.Join(d.dir, name))
}

// Record is a no-op: the downloaded file is the record.
func (d *Dir) Record(string) error { return nil }

type manifestEntry struct {
	Name         string    `json:"name"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

type manifestDoc struct {
	Files []manifestEntry `json:"files"`
}

// Manifest keeps an explicit JSON list of synced names. Files still present
// in the download directory count as synced even when the manifest lost them.
type Manifest struct {
	path string
	dir  *Dir

	mu      sync.RWMutex
	entries map[string]time.Time
}

// OpenManifest loads path if it exists. A missing file starts an empty manifest.
func OpenManifest(path, downloadDir string) (*Manifest, error) {
	m := &Manifest{
		path:    path,
		dir:     NewDir(downloadDir),
		entries: make(map[string]time.Time),
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is controlled by configuration
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if len(data) == 0 {
		return m, nil
	}
	var doc manifestDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	for _, e := range doc.Files {
		m.entries[e.Name] = e.DownloadedAt
	}
	return m, nil
}

func (m *Manifest) AlreadyDownloaded(name string) bool {
	m.mu.RLock()
	_, ok := m.entries[name]
	m.mu.RUnlock()
	return ok || m.dir.AlreadyDownloaded(name)
}

// Record adds name and persists the manifest atomically.
func (m *Manifest) Record(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[name] = time.Now().UTC()

	doc := manifestDoc{Files: make([]manifestEntry, 0, len(m.entries))}
	for n, at := range m.entries {
		doc.Files = append(doc.Files, manifestEntry{Name: n, DownloadedAt: at})
	}
	sort.Slice(doc.Files, func(i, j int) bool { return doc.Files[i].Name < doc.Files[j].Name })
	return fileutil.WriteJSONAtomic(m.path, doc) //nolint:wrapcheck
}

// Names returns the recorded names in sorted order.
func (m *Manifest) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.entries))
	for n := range m.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open builds the ledger selected by kind.
func Open(kind Kind, downloadDir, manifestPath string) (Ledger, error) { //nolint:ireturn
	switch kind {
	case KindDir, "":
		return NewDir(downloadDir), nil
	case KindManifest:
		if manifestPath == "" {
			return nil, fmt.Errorf("manifest ledger needs a manifest path")
		}
		m, err := OpenManifest(manifestPath, downloadDir)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown ledger %q", kind)
	}
}
