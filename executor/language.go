package executor

// Language describes how to boot a WASI interpreter into the session loop.
type Language interface {
	// Name returns a unique identifier for this language (e.g., "python", "r").
	// Used as part of the cache key for compiled modules.
	Name() string

	// Args returns the command-line arguments that start the interpreter
	// running boot.
	// For Python: []string{"python", "-c", boot}
	Args(boot string) []string

	// BootScript returns the session loop source the interpreter runs.
	BootScript() string

	// Env returns extra environment variables for the interpreter.
	Env() map[string]string
}
