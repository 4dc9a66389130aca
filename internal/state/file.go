package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"
)

// ErrUnsupportedFormat is returned for file extensions without a codec.
var ErrUnsupportedFormat = errors.New("unsupported state file format")

type fileFormat struct {
	marshal   func(map[string]any) ([]byte, error)
	unmarshal func([]byte, *map[string]any) error
}

var formats = map[string]fileFormat{
	".json": {
		marshal: func(m map[string]any) ([]byte, error) { return json.MarshalIndent(m, "", "  ") },
		unmarshal: func(b []byte, m *map[string]any) error {
			return json.Unmarshal(b, m)
		},
	},
	".yaml": {
		marshal:   func(m map[string]any) ([]byte, error) { return yaml.Marshal(m) },
		unmarshal: func(b []byte, m *map[string]any) error { return yaml.Unmarshal(b, m) },
	},
	".toml": {
		marshal: func(m map[string]any) ([]byte, error) {
			var buf bytes.Buffer
			if err := toml.NewEncoder(&buf).Encode(m); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
		unmarshal: func(b []byte, m *map[string]any) error {
			_, err := toml.Decode(string(b), m)
			return err
		},
	},
}

func init() {
	formats[".yml"] = formats[".yaml"]
}

// File is a Store persisted to a JSON, YAML or TOML file, chosen by
// extension. Writes replace the file atomically.
type File struct {
	path   string
	format fileFormat
	logger *zap.Logger

	mu          sync.Mutex
	data        map[string]any
	lastWritten []byte

	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// FileOption configures a File store.
type FileOption func(*File)

// WithLogger sets the logger used by Watch.
func WithLogger(l *zap.Logger) FileOption {
	return func(f *File) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFile opens the store at path. A missing file is an empty scope; it is
// created on the first Update.
func NewFile(path string, opts ...FileOption) (*File, error) {
	format, ok := formats[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	f := &File{
		path:   path,
		format: format,
		logger: zap.NewNop(),
		data:   make(map[string]any),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	data, err := f.parse(raw)
	if err != nil {
		return nil, err
	}
	f.data = data
	f.lastWritten = raw
	return f, nil
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Get returns a copy of the scope.
func (f *File) Get(context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.data), nil
}

// Update merges items and rewrites the file.
func (f *File) Update(_ context.Context, items map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := maps.Clone(f.data)
	merge(next, items)

	raw, err := f.format.marshal(next)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if err := writeAtomic(f.path, raw); err != nil {
		return err
	}
	f.data = next
	f.lastWritten = raw
	return nil
}

// Watch reloads the scope whenever another process rewrites the file and
// reports the new contents to onChange. It returns once the watcher is set
// up; call Close to stop it.
func (f *File) Watch(ctx context.Context, onChange func(map[string]any)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory; atomic renames replace the file's inode.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(f.path), err)
	}

	f.mu.Lock()
	f.watcher = watcher
	f.mu.Unlock()

	go f.processEvents(ctx, watcher, onChange)
	return nil
}

func (f *File) processEvents(ctx context.Context, watcher *fsnotify.Watcher, onChange func(map[string]any)) {
	target := filepath.Clean(f.path)
	for {
		select {
		case <-f.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if data, changed := f.reload(); changed && onChange != nil {
				onChange(data)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("state file watcher error", zap.String("path", f.path), zap.Error(err))
		}
	}
}

// reload re-reads the file. Our own writes are recognized by content and
// ignored.
func (f *File) reload() (map[string]any, bool) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if bytes.Equal(raw, f.lastWritten) {
		return nil, false
	}

	data, err := f.parse(raw)
	if err != nil {
		f.logger.Warn("ignoring unreadable state file", zap.String("path", f.path), zap.Error(err))
		return nil, false
	}
	f.data = data
	f.lastWritten = raw
	f.logger.Debug("state file reloaded", zap.String("path", f.path), zap.Int("keys", len(data)))
	return maps.Clone(data), true
}

func (f *File) parse(raw []byte) (map[string]any, error) {
	data := make(map[string]any)
	if len(bytes.TrimSpace(raw)) == 0 {
		return data, nil
	}
	if err := f.format.unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parsing state file %s: %w", f.path, err)
	}
	if data == nil {
		data = make(map[string]any)
	}
	return data, nil
}

// Close stops a running Watch.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.stop:
		return nil
	default:
		close(f.stop)
	}
	if f.watcher != nil {
		return f.watcher.Close()
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
