// Package artifact persists extracted records into the on-disk JSON envelope,
// deduplicating against content already written.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonathan/exportd/internal/types"
)

// IdentityFn maps a record to its dedup identity key. Records with equal keys
// are treated as the same record. The exact fields vary per platform, so each
// extractor supplies its own function (or DefaultIdentity).
type IdentityFn func(record json.RawMessage) string

// Meta names the envelope an artifact file belongs to.
type Meta struct {
	Company string
	Name    string
	RunID   string
}

// Writer appends records to artifact files. Writes to the same path are
// serialized; each write is a full read-modify-write-replace cycle so a reader
// never observes a partial file.
type Writer struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewWriter creates a Writer.
func NewWriter() *Writer {
	return &Writer{locks: make(map[string]*sync.Mutex)}
}

func (w *Writer) pathLock(path string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[path]
	if !ok {
		l = &sync.Mutex{}
		w.locks[path] = l
	}
	return l
}

// AppendIfNew appends record to the artifact at path unless a record with the
// same identity already exists. It creates the envelope if the file is absent.
// Returns written=false when the record was a duplicate; incremental extractors
// use that as their reached-already-seen-content signal.
func (w *Writer) AppendIfNew(path string, meta Meta, record json.RawMessage, identity IdentityFn) (bool, error) {
	if identity == nil {
		identity = DefaultIdentity
	}

	l := w.pathLock(path)
	l.Lock()
	defer l.Unlock()

	env, err := readOrCreateEnvelope(path, meta)
	if err != nil {
		return false, err
	}

	key := identity(record)
	for _, existing := range env.Content {
		if identity(existing) == key {
			return false, nil
		}
	}

	env.Content = append(env.Content, record)
	if err := writeEnvelope(path, env); err != nil {
		return false, err
	}
	return true, nil
}

// ReadEnvelope loads the artifact at path. Returns nil without error when the
// file does not exist.
func ReadEnvelope(path string) (*types.Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse artifact %s: %w", path, err)
	}
	return &env, nil
}

// WriteEnvelope writes env to path atomically.
func WriteEnvelope(path string, env *types.Envelope) error {
	return writeEnvelope(path, env)
}

func readOrCreateEnvelope(path string, meta Meta) (*types.Envelope, error) {
	env, err := ReadEnvelope(path)
	if err != nil {
		return nil, err
	}
	if env != nil {
		return env, nil
	}
	return &types.Envelope{
		Company:   meta.Company,
		Name:      meta.Name,
		RunID:     meta.RunID,
		Timestamp: time.Now().UnixMilli(),
		Content:   []json.RawMessage{},
	}, nil
}

func writeEnvelope(path string, env *types.Envelope) error {
	if env.Content == nil {
		env.Content = []json.RawMessage{}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace artifact: %w", err)
	}
	return nil
}

// TreeSize returns the total byte size of all files under dir.
func TreeSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to size %s: %w", dir, err)
	}
	return total, nil
}
