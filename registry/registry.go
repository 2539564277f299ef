package registry

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"nvr-edge/entities"
)

var (
	ErrDuplicateId = errors.New("camera id already registered")
	ErrInvalidId   = errors.New("invalid camera id")
	ErrInvalidURI  = errors.New("unsupported stream uri")
	ErrNotFound    = errors.New("camera not found")
)

var supportedSchemes = map[string]bool{
	"rtsp":  true,
	"rtsps": true,
	"rtp":   true,
}

// Registry owns the camera set. Mutations are serialized and persisted to the
// feed file before they are acknowledged; reads work on snapshots.
type Registry struct {
	mu       sync.RWMutex
	feedFile string
	order    []string
	cameras  map[string]*entities.CameraEntry
}

func New(feedFile string) (*Registry, error) {
	r := &Registry{
		feedFile: feedFile,
		cameras:  make(map[string]*entities.CameraEntry),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Add(id, uri string) (*entities.CameraEntry, error) {
	if err := validateId(id); err != nil {
		return nil, err
	}
	if err := validateURI(uri); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cameras[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateId, id)
	}

	entry := &entities.CameraEntry{
		Id:        id,
		SourceURI: uri,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	r.cameras[id] = entry
	r.order = append(r.order, id)

	if err := r.persistLocked(); err != nil {
		delete(r.cameras, id)
		r.order = r.order[:len(r.order)-1]
		return nil, err
	}

	snapshot := *entry
	return &snapshot, nil
}

func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cameras[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	delete(r.cameras, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if err := r.persistLocked(); err != nil {
		r.cameras[id] = entry
		r.order = append(r.order, id)
		return err
	}
	return nil
}

// SetEnabled is idempotent; setting the current value still succeeds without
// touching the feed file.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cameras[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if entry.Enabled == enabled {
		return nil
	}

	entry.Enabled = enabled
	if err := r.persistLocked(); err != nil {
		entry.Enabled = !enabled
		return err
	}
	return nil
}

func (r *Registry) Get(id string) (*entities.CameraEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.cameras[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	snapshot := *entry
	return &snapshot, nil
}

// List returns a copy of all entries in insertion order.
func (r *Registry) List() []*entities.CameraEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entities.CameraEntry, 0, len(r.order))
	for _, id := range r.order {
		snapshot := *r.cameras[id]
		out = append(out, &snapshot)
	}
	return out
}

func validateId(id string) error {
	if id == "" || strings.ContainsAny(id, "|/\\ \t") {
		return fmt.Errorf("%w: %q", ErrInvalidId, id)
	}
	return nil
}

func validateURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil || !supportedSchemes[u.Scheme] || u.Host == "" {
		return fmt.Errorf("%w: scheme must be one of rtsp, rtsps, rtp", ErrInvalidURI)
	}
	return nil
}

// load parses the feed file: one `id|uri` per line, `#` comments and blank
// lines skipped, unlabeled lines auto-assigned cam<N>. A third `disabled`
// field keeps disabled cameras durable across restarts.
func (r *Registry) load() error {
	f, err := os.Open(r.feedFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	unlabeled := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var id, uri string
		enabled := true
		if idx := strings.Index(line, "|"); idx >= 0 {
			id = strings.TrimSpace(line[:idx])
			rest := line[idx+1:]
			if j := strings.Index(rest, "|"); j >= 0 {
				uri = strings.TrimSpace(rest[:j])
				enabled = !strings.EqualFold(strings.TrimSpace(rest[j+1:]), "disabled")
			} else {
				uri = strings.TrimSpace(rest)
			}
		} else {
			unlabeled++
			id = fmt.Sprintf("cam%d", unlabeled)
			uri = line
		}

		if _, ok := r.cameras[id]; ok {
			continue
		}
		r.cameras[id] = &entities.CameraEntry{
			Id:        id,
			SourceURI: uri,
			Enabled:   enabled,
			CreatedAt: time.Now().UTC(),
		}
		r.order = append(r.order, id)
	}
	return scanner.Err()
}

// persistLocked rewrites the feed file durably: temp file in the same
// directory, fsync, then rename over the old file.
func (r *Registry) persistLocked() error {
	dir := filepath.Dir(r.feedFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".cameras-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, id := range r.order {
		entry := r.cameras[id]
		if entry.Enabled {
			fmt.Fprintf(w, "%s|%s\n", entry.Id, entry.SourceURI)
		} else {
			fmt.Fprintf(w, "%s|%s|disabled\n", entry.Id, entry.SourceURI)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), r.feedFile)
}
