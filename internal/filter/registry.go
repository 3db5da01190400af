package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/sha1n/kseek/internal/domain"
	"github.com/valyala/fastjson"
)

// Registry maps filter names to loaded modules. Each name is loaded at most
// once for the lifetime of the registry. Calls to the same filter are
// serialized; different filters run independently.
type Registry struct {
	dir     string
	runtime Runtime
	logger  *slog.Logger
	parsers fastjson.ParserPool

	mu      sync.Mutex
	modules map[string]*handle
}

type handle struct {
	mu     sync.Mutex
	path   string
	module Module
}

// NewRegistry creates a registry that loads "<dir>/<name>.wasm" through runtime.
func NewRegistry(dir string, runtime Runtime, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		dir:     dir,
		runtime: runtime,
		logger:  logger,
		modules: make(map[string]*handle),
	}
}

// Dir returns the filters directory.
func (r *Registry) Dir() string {
	return r.dir
}

// ModulePath returns where the module of the named filter is expected.
func (r *Registry) ModulePath(name string) string {
	return filepath.Join(r.dir, name+Extension)
}

// Resolve loads the named filter if needed and asks it to validate params,
// a JSON array. Failures are returned as *FilterError.
func (r *Registry) Resolve(ctx context.Context, name string, params []byte) error {
	h, err := r.load(ctx, name)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.module.Call(ctx, ParseParametersFunction, params); err != nil {
		return &FilterError{Name: name, Path: h.path, Err: fmt.Errorf("%w: %v", ErrInvalidParameters, err)}
	}
	return nil
}

func (r *Registry) load(ctx context.Context, name string) (*handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.modules[name]; ok {
		return h, nil
	}

	path := r.ModulePath(name)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, &FilterError{Name: name, Path: path, Err: ErrFilterNotFound}
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &FilterError{Name: name, Path: path, Err: ErrFilterNotFound}
		}
		return nil, &FilterError{Name: name, Path: path, Err: err}
	}

	module, err := r.runtime.Load(ctx, name, path)
	if err != nil {
		return nil, &FilterError{Name: name, Path: path, Err: err}
	}

	h := &handle{path: path, module: module}
	r.modules[name] = h
	r.logger.DebugContext(ctx, "Search filter loaded", "filter", name, "path", path)
	return h, nil
}

// Invoke runs the named filter against rec. Any failure is logged and
// reported as a non-match so that the stream keeps flowing.
func (r *Registry) Invoke(ctx context.Context, name string, params []byte, rec *domain.Record) bool {
	r.mu.Lock()
	h, ok := r.modules[name]
	r.mu.Unlock()
	if !ok {
		r.logger.WarnContext(ctx, "Search filter is not loaded", "filter", name)
		return false
	}

	input, err := EncodeInput(rec, params)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to encode search filter input", "filter", name, "record", rec.ID(), "error", err)
		return false
	}

	h.mu.Lock()
	out, err := h.module.Call(ctx, MatchesFunction, input)
	h.mu.Unlock()
	if err != nil {
		r.logger.WarnContext(ctx, "Search filter failed", "filter", name, "record", rec.ID(), "error", err)
		return false
	}

	match, err := r.decodeResult(out)
	if err != nil {
		r.logger.WarnContext(ctx, "Search filter returned an invalid result", "filter", name, "record", rec.ID(), "error", err)
		return false
	}
	return match
}

// Input is the document passed to the matches function.
type Input struct {
	Record *domain.Record  `json:"record"`
	Params json.RawMessage `json:"params"`
}

// EncodeInput builds the matches input for rec.
func EncodeInput(rec *domain.Record, params []byte) ([]byte, error) {
	if len(params) == 0 {
		params = []byte("[]")
	}
	return json.Marshal(Input{Record: rec, Params: params})
}

func (r *Registry) decodeResult(out []byte) (bool, error) {
	p := r.parsers.Get()
	defer r.parsers.Put(p)

	v, err := p.ParseBytes(out)
	if err != nil {
		return false, err
	}
	match := v.Get("match")
	if match == nil {
		return false, errors.New("missing 'match' field")
	}
	return match.Bool()
}

// Loaded returns the names of the loaded filters, sorted.
func (r *Registry) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Available lists the filters present in the filters directory, sorted.
// A missing directory has no filters.
func (r *Registry) Available() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read filters directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != Extension {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), Extension))
	}
	slices.Sort(names)
	return names, nil
}

// Close releases every loaded module. The registry cannot be used afterwards.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, h := range r.modules {
		h.mu.Lock()
		if err := h.module.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close filter %s: %w", name, err))
		}
		h.mu.Unlock()
	}
	r.modules = make(map[string]*handle)
	return errors.Join(errs...)
}
