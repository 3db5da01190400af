package filter

import "context"

// Exported function names of the filter plugin ABI.
const (
	// ParseParametersFunction receives the call parameters as a JSON array
	// and fails when the filter cannot accept them.
	ParseParametersFunction = "parse_parameters"

	// MatchesFunction receives {"record": ..., "params": [...]} and
	// answers {"match": bool}.
	MatchesFunction = "matches"

	// Extension is the file extension of filter modules.
	Extension = ".wasm"
)

// Runtime loads filter modules. Implementations decide the sandbox.
type Runtime interface {
	Load(ctx context.Context, name, path string) (Module, error)
}

// Module is a loaded filter instance. Calls on one module are never issued
// concurrently by the registry.
type Module interface {
	Call(ctx context.Context, function string, input []byte) ([]byte, error)
	HasFunction(name string) bool
	Close(ctx context.Context) error
}
