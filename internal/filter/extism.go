package filter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	extism "github.com/extism/go-sdk"
)

// DefaultMaxMemoryPages caps filter memory at 16MiB (64KiB pages).
const DefaultMaxMemoryPages = 256

// ExtismRuntime loads filters as Extism plugins. Modules get WASI but no
// allowed hosts and no allowed paths: a filter attempting an HTTP request or
// a file access fails the call.
type ExtismRuntime struct {
	timeout  time.Duration
	maxPages uint32
	logger   *slog.Logger
}

// NewExtismRuntime creates a runtime enforcing timeout on every call.
func NewExtismRuntime(timeout time.Duration, logger *slog.Logger) *ExtismRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtismRuntime{
		timeout:  timeout,
		maxPages: DefaultMaxMemoryPages,
		logger:   logger,
	}
}

// Load compiles and instantiates the module at path.
func (r *ExtismRuntime) Load(ctx context.Context, name, path string) (Module, error) {
	manifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmFile{Path: path, Name: name},
		},
		Memory:       &extism.ManifestMemory{MaxPages: r.maxPages},
		AllowedHosts: []string{},
		AllowedPaths: map[string]string{},
		Timeout:      uint64(r.timeout.Milliseconds()),
	}

	plugin, err := extism.NewPlugin(ctx, manifest, extism.PluginConfig{EnableWasi: true}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate plugin: %w", err)
	}

	logger := r.logger.With("filter", name)
	plugin.SetLogger(func(level extism.LogLevel, msg string) {
		logger.Log(context.Background(), slogLevel(level), msg)
	})

	return &extismModule{plugin: plugin}, nil
}

func slogLevel(level extism.LogLevel) slog.Level {
	switch level {
	case extism.LogLevelError:
		return slog.LevelError
	case extism.LogLevelWarn:
		return slog.LevelWarn
	case extism.LogLevelInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

type extismModule struct {
	plugin *extism.Plugin
}

func (m *extismModule) Call(ctx context.Context, function string, input []byte) ([]byte, error) {
	exit, out, err := m.plugin.CallWithContext(ctx, function, input)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, fmt.Errorf("%s exited with code %d", function, exit)
	}
	return out, nil
}

func (m *extismModule) HasFunction(name string) bool {
	return m.plugin.FunctionExists(name)
}

func (m *extismModule) Close(ctx context.Context) error {
	return m.plugin.Close(ctx)
}
