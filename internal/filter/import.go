package filter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// RequiredFunctions are the functions every filter module must export.
var RequiredFunctions = []string{ParseParametersFunction, MatchesFunction}

// ImportName returns the filter name a module file is installed under: name
// when given, the file name without its extension otherwise.
func ImportName(src, name string) string {
	if name != "" {
		return name
	}
	return strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
}

// Import checks that the module at src exports RequiredFunctions and copies
// it into the filters directory as name. An installed filter of the same name
// is only replaced with force, and a loaded copy of it is unloaded. It
// returns the installed path.
func (r *Registry) Import(ctx context.Context, src, name string, force bool) (string, error) {
	name = ImportName(src, name)
	dest := r.ModulePath(name)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid filter name %q", name)
	}

	if _, err := os.Stat(dest); err == nil && !force {
		return "", fmt.Errorf("%w: %s (use --force to replace it)", ErrFilterExists, dest)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to check %s: %w", dest, err)
	}

	if err := r.check(ctx, name, src); err != nil {
		return "", err
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("failed to read filter module: %w", err)
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create filters directory: %w", err)
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write filter module: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to install filter module: %w", err)
	}

	r.unload(ctx, name)
	r.logger.InfoContext(ctx, "Search filter imported", "filter", name, "path", dest)
	return dest, nil
}

// check loads the module at src and verifies its exports.
func (r *Registry) check(ctx context.Context, name, src string) error {
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &FilterError{Name: name, Path: src, Err: ErrFilterNotFound}
		}
		return &FilterError{Name: name, Path: src, Err: err}
	}

	module, err := r.runtime.Load(ctx, name, src)
	if err != nil {
		return &FilterError{Name: name, Path: src, Err: err}
	}
	defer func() { _ = module.Close(ctx) }()

	for _, fn := range RequiredFunctions {
		if !module.HasFunction(fn) {
			return &FilterError{Name: name, Path: src, Err: fmt.Errorf("%w: the module must export '%s'", ErrMissingFunction, fn)}
		}
	}
	return nil
}

// unload drops a loaded module so that the next Resolve reads the new file.
func (r *Registry) unload(ctx context.Context, name string) {
	r.mu.Lock()
	h, ok := r.modules[name]
	delete(r.modules, name)
	r.mu.Unlock()
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.module.Close(ctx); err != nil {
		r.logger.WarnContext(ctx, "Failed to close replaced filter", "filter", name, "error", err)
	}
}
