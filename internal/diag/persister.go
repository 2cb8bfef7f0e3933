// Package diag provides diagnostics integrations: snapshot persistence,
// resolution publishing, visualization.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/comalice/tickx"
)

// Persister stores engine snapshots keyed by session id.
type Persister interface {
	Save(ctx context.Context, snapshot tickx.Snapshot) error
	Load(ctx context.Context, session string) (tickx.Snapshot, error)
}

// NewPersister returns the persister for format ("json" or "yaml") in dir.
func NewPersister(format, dir string) (Persister, error) {
	switch format {
	case "json":
		return NewJSONPersister(dir)
	case "yaml":
		return NewYAMLPersister(dir)
	default:
		return nil, fmt.Errorf("unknown snapshot format %q", format)
	}
}

type codec struct {
	ext       string
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

// filePersister writes one file per session.
type filePersister struct {
	dir   string
	codec codec
}

func newFilePersister(dir string, c codec) (filePersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return filePersister{}, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return filePersister{dir: dir, codec: c}, nil
}

func (p filePersister) path(session string) string {
	return filepath.Join(p.dir, session+p.codec.ext)
}

func (p filePersister) save(ctx context.Context, snapshot tickx.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snapshot.Session == "" {
		return errors.New("snapshot has no session id")
	}

	data, err := p.codec.marshal(snapshot)
	if err != nil {
		return fmt.Errorf("%s marshal: %w", p.codec.ext[1:], err)
	}

	fn := p.path(snapshot.Session)
	tmp := fn + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, fn); err != nil {
		return fmt.Errorf("rename %s: %w", fn, err)
	}
	return nil
}

func (p filePersister) load(ctx context.Context, session string) (tickx.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return tickx.Snapshot{}, err
	}
	fn := p.path(session)
	data, err := os.ReadFile(fn)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tickx.Snapshot{}, fmt.Errorf("session %q: %w", session, os.ErrNotExist)
		}
		return tickx.Snapshot{}, fmt.Errorf("read %s: %w", fn, err)
	}

	var snapshot tickx.Snapshot
	if err := p.codec.unmarshal(data, &snapshot); err != nil {
		return tickx.Snapshot{}, fmt.Errorf("%s unmarshal: %w", p.codec.ext[1:], err)
	}
	snapshot.Session = session
	return snapshot, nil
}

// JSONPersister is a file-based persister using JSON serialization.
type JSONPersister struct {
	filePersister
}

// NewJSONPersister creates a JSONPersister, ensuring the directory exists.
func NewJSONPersister(dir string) (*JSONPersister, error) {
	fp, err := newFilePersister(dir, codec{
		ext: ".json",
		marshal: func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		},
		unmarshal: json.Unmarshal,
	})
	if err != nil {
		return nil, err
	}
	return &JSONPersister{fp}, nil
}

func (p *JSONPersister) Save(ctx context.Context, snapshot tickx.Snapshot) error {
	return p.save(ctx, snapshot)
}

func (p *JSONPersister) Load(ctx context.Context, session string) (tickx.Snapshot, error) {
	return p.load(ctx, session)
}

// YAMLPersister is a file-based persister using YAML serialization.
type YAMLPersister struct {
	filePersister
}

// NewYAMLPersister creates a YAMLPersister, ensuring the directory exists.
func NewYAMLPersister(dir string) (*YAMLPersister, error) {
	fp, err := newFilePersister(dir, codec{
		ext:       ".yaml",
		marshal:   yaml.Marshal,
		unmarshal: yaml.Unmarshal,
	})
	if err != nil {
		return nil, err
	}
	return &YAMLPersister{fp}, nil
}

func (p *YAMLPersister) Save(ctx context.Context, snapshot tickx.Snapshot) error {
	return p.save(ctx, snapshot)
}

func (p *YAMLPersister) Load(ctx context.Context, session string) (tickx.Snapshot, error) {
	return p.load(ctx, session)
}
