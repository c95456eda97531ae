// Package python is the Python dialect: the snippets, messages and policies
// the adapter uses for Python, plus the boot loop the WASI interpreter runs.
package python

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/caffeineduck/datalab/adapter"
	"github.com/caffeineduck/datalab/engine"
	"github.com/caffeineduck/datalab/retry"
)

//go:embed session.py
var bootScript string

// DefaultArtifactURL is a CPython build for WASI.
const DefaultArtifactURL = "https://github.com/vmware-labs/webassembly-language-runtimes/releases/download/python%2F3.12.0%2B20231211-040d5a6/python-3.12.0.wasm"

const example = `# Welcome to Python Data Science!
# Click "Run Code" to execute

print("Hello, Data Science!")

# Try some basic operations
import statistics

# Create a simple dataset
data = [
    {"name": "Alice", "age": 25, "score": 85},
    {"name": "Bob", "age": 30, "score": 92},
    {"name": "Charlie", "age": 35, "score": 78},
]

print("Dataset:")
for row in data:
    print(row)

# Basic statistics
scores = [row["score"] for row in data]
print("\nBasic Statistics:")
print("mean:", statistics.mean(scores))
print("stdev:", round(statistics.stdev(scores), 2))`

const banner = "🐍 Initializing Python environment...\n\n"


// Python implements adapter.Dialect and executor.Language.
type Python struct {
	packages []string
}

// New returns the Python dialect. The packages are installed during
// bootstrap; a failed install leaves the interpreter usable.
func New(packages ...string) *Python {
	return &Python{packages: packages}
}

func (p *Python) Name() string        { return "python" }
func (p *Python) DisplayName() string { return "Python" }
func (p *Python) Example() string     { return example }

func (p *Python) Packages() []string    { return p.packages }
func (p *Python) PackagesOptional() bool { return true }

// SetupCode is empty: generated snippets import what they need.
func (p *Python) SetupCode() string { return "" }

// BindCode parses with _lab_read_table from the boot script: a pandas
// DataFrame when pandas imports, otherwise a list of row dicts.
func (p *Python) BindCode(name, raw string) string {
	return engine.RawName(name) + " = " + engine.Quote(raw) + "\n" +
		p.RestoreCode(name)
}

func (p *Python) RestoreCode(name string) string {
	return engine.DataName(name) + " = _lab_read_table(" + engine.RawName(name) + ")"
}

func (p *Python) PreviewCode(name string) string {
	return "print(_lab_head(" + engine.DataName(name) + "))"
}

// Columns renders names like a Python list.
func (p *Python) Columns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = "'" + strings.ReplaceAll(c, "'", `\'`) + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func (p *Python) UsageSnippet(name string) string {
	return fmt.Sprintf("\n\n# Dataset '%s' is now available as %s\nprint(_lab_head(%s))\n",
		name, engine.DataName(name), engine.DataName(name))
}

func (p *Python) Reserved(name string) bool {
	return strings.HasPrefix(name, "_")
}

func (p *Python) Messages() adapter.Messages {
	steps := 2
	if len(p.packages) > 0 {
		steps = 3
	}
	progress := map[adapter.Step]string{
		adapter.StepFetch: banner + fmt.Sprintf("Step 1/%d: Loading Python runtime...", steps),
		adapter.StepStart: banner + fmt.Sprintf("Step 2/%d: Starting Python interpreter...", steps),
	}
	if len(p.packages) > 0 {
		progress[adapter.StepInstall] = banner + "Step 3/3: Installing packages (" + strings.Join(p.packages, ", ") + ")..."
	}
	return adapter.Messages{
		Progress: progress,
		Slow: "⏱️ Python environment is taking longer than expected...\n\n" +
			"This usually happens on:\n- Slow internet connections\n- First-time runs (caching files)\n\n" +
			"💡 Options:\n1. Wait a bit more (it often finishes)\n2. Retry\n3. Check your internet connection",
		Ready: "✅ Python environment ready! 🚀\n\nYou can now run Python code!\n\n" +
			"Try the examples or write your own code.",
		Loading:   "Python environment is still loading... Please wait.",
		Cleared:   "Python environment cleared! 🔄\n\nYou can now start fresh with your code.",
		ExecError: "Error: %s",
	}
}

func (p *Python) ClassifyBootstrap(step adapter.Step, err error) adapter.ErrorKind {
	return adapter.DefaultBootstrapKind(step, err)
}

func (p *Python) Diagnose(kind adapter.ErrorKind, err error) string {
	switch kind {
	case adapter.KindBootstrapTransport:
		return "❌ Failed to load the Python runtime.\n\n" +
			"The Python environment could not be loaded.\n\n" +
			"This might be due to:\n- Network connectivity issues\n- Artifact server problems\n- Proxy or firewall\n\n" +
			"💡 Solutions:\n1. Retry\n2. Check your internet connection\n3. Check runtime.cache_dir is writable\n\n" +
			"Error details: " + err.Error()
	case adapter.KindBootstrapEngine:
		return "❌ Python environment failed to initialize.\n\n" +
			"This might be due to:\n- A corrupt or incompatible runtime artifact\n- Missing packages\n- Not enough memory\n\n" +
			"💡 Solutions:\n1. Retry\n2. Clear the runtime cache\n3. Raise runtime.memory\n\n" +
			"Error details: " + err.Error()
	default:
		return "❌ Error loading Python environment.\n\nPlease retry.\n\nTechnical details: " + err.Error()
	}
}

func (p *Python) StartRetry() retry.Policy { return retry.Once }

func (p *Python) Strategy() adapter.Strategy  { return adapter.Direct }
func (p *Python) RunRetry() retry.Policy      { return retry.Once }
func (p *Python) IsBridgeFault(err error) bool { return false }
func (p *Python) PlotHint(code string) string  { return "" }

// Args runs the boot script with the interpreter's -c flag.
func (p *Python) Args(boot string) []string {
	return []string{"python", "-c", boot}
}

func (p *Python) BootScript() string { return bootScript }

func (p *Python) Env() map[string]string {
	return map[string]string{
		"PYTHONPATH":       "/packages",
		"PYTHONUNBUFFERED": "1",
		"HOME":             "/home/lab",
	}
}
