package filter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportName(t *testing.T) {
	tests := []struct {
		src, name, want string
	}{
		{"/tmp/random.wasm", "", "random"},
		{"/tmp/my_filter.wasm", "my-filter", "my-filter"},
		{"plain", "", "plain"},
	}
	for _, tt := range tests {
		if got := ImportName(tt.src, tt.name); got != tt.want {
			t.Errorf("ImportName(%q, %q) = %q, want %q", tt.src, tt.name, got, tt.want)
		}
	}
}

func TestRegistry_Import(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "filters")
	src := writeSource(t, "vip.wasm", "module v1")
	reg := NewRegistry(dir, newFakeRuntime(), nil)

	path, err := reg.Import(context.Background(), src, "", false)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if path != filepath.Join(dir, "vip.wasm") {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "module v1" {
		t.Errorf("installed module = %q, %v", data, err)
	}
	if names, _ := reg.Available(); len(names) != 1 || names[0] != "vip" {
		t.Errorf("Available() = %v", names)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Error("temporary file left behind")
	}
}

func TestRegistry_ImportExisting(t *testing.T) {
	dir := t.TempDir()
	writeModules(t, dir, "vip")
	src := writeSource(t, "new.wasm", "module v2")
	runtime := newFakeRuntime()
	reg := NewRegistry(dir, runtime, nil)
	ctx := context.Background()

	_, err := reg.Import(ctx, src, "vip", false)
	if !errors.Is(err, ErrFilterExists) {
		t.Fatalf("expected ErrFilterExists, got %v", err)
	}
	if !strings.Contains(err.Error(), "--force") {
		t.Errorf("error should mention --force: %v", err)
	}

	if err := reg.Resolve(ctx, "vip", nil); err != nil {
		t.Fatal(err)
	}
	loaded := runtime.modules["vip"]
	runtime.modules["vip"] = &fakeModule{}

	if _, err := reg.Import(ctx, src, "vip", true); err != nil {
		t.Fatalf("forced Import failed: %v", err)
	}
	data, _ := os.ReadFile(reg.ModulePath("vip"))
	if string(data) != "module v2" {
		t.Errorf("installed module = %q, want the new one", data)
	}
	if !loaded.closed.Load() {
		t.Error("the replaced module should be closed")
	}
	if len(reg.Loaded()) != 0 {
		t.Errorf("Loaded() = %v, want the replaced filter unloaded", reg.Loaded())
	}
}

func TestRegistry_ImportRejectsInvalidModules(t *testing.T) {
	tests := []struct {
		name    string
		missing []string
		loadErr error
		want    error
		wantMsg string
	}{
		{name: "no matches", missing: []string{MatchesFunction}, want: ErrMissingFunction, wantMsg: "'matches'"},
		{name: "no parse_parameters", missing: []string{ParseParametersFunction}, want: ErrMissingFunction, wantMsg: "'parse_parameters'"},
		{name: "not loadable", loadErr: errors.New("bad magic"), wantMsg: "bad magic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			runtime := newFakeRuntime()
			runtime.modules["f"] = &fakeModule{missing: tt.missing}
			runtime.loadErr = tt.loadErr
			reg := NewRegistry(dir, runtime, nil)

			_, err := reg.Import(context.Background(), writeSource(t, "f.wasm", "x"), "", false)
			var filterErr *FilterError
			if !errors.As(err, &filterErr) {
				t.Fatalf("expected *FilterError, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err, tt.wantMsg)
			}
			if _, err := os.Stat(reg.ModulePath("f")); !errors.Is(err, os.ErrNotExist) {
				t.Error("a rejected module must not be installed")
			}
		})
	}
}

func TestRegistry_ImportErrors(t *testing.T) {
	reg := NewRegistry(t.TempDir(), newFakeRuntime(), nil)
	ctx := context.Background()

	if _, err := reg.Import(ctx, filepath.Join(t.TempDir(), "missing.wasm"), "", false); !errors.Is(err, ErrFilterNotFound) {
		t.Errorf("missing source: got %v", err)
	}
	if _, err := reg.Import(ctx, writeSource(t, "x.wasm", "x"), "a/b", false); err == nil {
		t.Error("a name with a path separator should be rejected")
	}
}

func TestExtismRuntime_ImportChecksExports(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir, NewExtismRuntime(time.Second, nil), nil)
	ctx := context.Background()

	path, err := reg.Import(ctx, filepath.Join("testdata", "http_filter.wasm"), "", false)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if filepath.Base(path) != "http_filter.wasm" {
		t.Errorf("path = %s", path)
	}

	garbage := writeSource(t, "garbage.wasm", "definitely not wasm")
	var filterErr *FilterError
	if _, err := reg.Import(ctx, garbage, "", false); !errors.As(err, &filterErr) {
		t.Errorf("expected *FilterError for an invalid module, got %v", err)
	}
}
