// Package r is the R dialect. R evaluation goes through a scoped capture
// that is retried on bridge faults and falls back to direct evaluation.
package r

import (
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/caffeineduck/datalab/adapter"
	"github.com/caffeineduck/datalab/engine"
	"github.com/caffeineduck/datalab/retry"
)

//go:embed session.R
var bootScript string

const example = `# Welcome to R!
# Try some basic data analysis

# Create a simple dataset
name <- c("Alice", "Bob", "Charlie")
age <- c(25, 30, 35)
score <- c(85, 92, 78)

df <- data.frame(name, age, score)
print("Dataset:")
print(df)

# Basic statistics
print("\nSummary:")
print(summary(df))

# Calculate mean score
mean_score <- mean(df$score)
print(paste("Mean Score:", mean_score))`

const setupCode = `options(datalab.canvas.enabled = TRUE)
.store_plot_call <- function(call) {
  .GlobalEnv$.__last_plot__ <- call
}`

const banner = "🔄 Initializing R environment...\n\n"

const plotHint = "📊 Plot command executed!\n\n" +
	"R plots are drawn on the session's graphics device and are not shown as text output.\n\n" +
	"If you need the values behind a plot:\n1. Print the data you are plotting\n" +
	"2. Use summary() or table() for a text view\n3. Try the Python editor for matplotlib output\n\n" +
	"Working plot examples:\n" +
	"plot(1:10)           # Basic line plot\n" +
	"hist(rnorm(100))      # Histogram\n" +
	"boxplot(1:50)         # Box plot"

// Faults reported by the R bridge. The messages match what the engine
// prints so errors crossing process boundaries still classify.
const (
	faultPayloadType = "payloadType"
	faultLoadFailed  = "Load failed"
)

var plotCalls = []string{"plot(", "hist(", "boxplot(", "barplot(", "pairs(", "curve("}

// R implements adapter.Dialect and executor.Language.
type R struct {
	packages []string
}

// New returns the R dialect. With no packages the defaults are used.
func New(packages ...string) *R {
	if len(packages) == 0 {
		packages = []string{"ggplot2", "dplyr", "tidyr"}
	}
	return &R{packages: packages}
}

func (r *R) Name() string        { return "r" }
func (r *R) DisplayName() string { return "R" }
func (r *R) Example() string     { return example }

func (r *R) Packages() []string { return r.packages }

// PackagesOptional is true: R starts without its extra packages.
func (r *R) PackagesOptional() bool { return true }
func (r *R) SetupCode() string      { return setupCode }

func (r *R) BindCode(name, raw string) string {
	return engine.RawName(name) + " <- " + engine.Quote(raw) + "\n" +
		engine.DataName(name) + " <- read.csv(text = " + engine.RawName(name) + ", stringsAsFactors = FALSE)"
}

func (r *R) RestoreCode(name string) string {
	return engine.DataName(name) + " <- read.csv(text = " + engine.RawName(name) + ", stringsAsFactors = FALSE)"
}

func (r *R) PreviewCode(name string) string {
	return "print(head(" + engine.DataName(name) + ", 5))"
}

// Columns renders names like an R character vector.
func (r *R) Columns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = engine.Quote(c)
	}
	return "c(" + strings.Join(quoted, ", ") + ")"
}

// UsageSnippet is empty: the R editor is never edited by a load.
func (r *R) UsageSnippet(name string) string { return "" }

func (r *R) Reserved(name string) bool {
	return strings.HasPrefix(name, ".")
}

func (r *R) Messages() adapter.Messages {
	pkgs := strings.Join(r.packages, ", ")
	return adapter.Messages{
		Progress: map[adapter.Step]string{
			adapter.StepFetch: banner + "Step 1/4: Downloading R WebAssembly files...\n\n" +
				"This is the longest step on first use.\nWebAssembly files are cached after first use.",
			adapter.StepStart:   banner + "Step 2/4: Starting R runtime...",
			adapter.StepSetup:   banner + "Step 3/4: Configuring R session...",
			adapter.StepInstall: banner + "Step 4/4: Installing packages: " + pkgs + "...",
		},
		Slow: "⏱️ R environment is taking longer than expected...\n\n" +
			"This is normal for first-time usage.\nFiles are being downloaded and cached.\n\n" +
			"💡 Future loads will be much faster!",
		Ready: "✅ R environment ready! 🎉\n\nYou can now run R code with full functionality.\n\n" +
			"Available packages: " + pkgs + "\n\nTry the examples or write your own R code!",
		Loading: "R environment is still loading... Please wait.",
		Cleared: "R environment cleared! 🔄\n\nYou can now start fresh with your code.",
		BridgeFailed: "⚠️ R environment communication failed.\n\n" +
			"The WebAssembly R library is experiencing issues.\n\n" +
			"💡 Recommendations:\n1. Try the Python editor (fully functional)\n2. Retry\n3. Use simpler R code",
		ExecError: "R execution error: %s\n\n💡 Try:\n1. Checking R syntax\n2. Using simpler code first\n" +
			"3. Loading required packages\n\nCommon packages available: " + pkgs,
	}
}

func (r *R) ClassifyBootstrap(step adapter.Step, err error) adapter.ErrorKind {
	switch {
	case strings.Contains(err.Error(), faultPayloadType):
		return adapter.KindBootstrapEngine
	case strings.Contains(err.Error(), faultLoadFailed):
		return adapter.KindBootstrapTransport
	default:
		return adapter.DefaultBootstrapKind(step, err)
	}
}

func (r *R) Diagnose(kind adapter.ErrorKind, err error) string {
	switch {
	case r.IsBridgeFault(err):
		return "⚠️ R environment encountered a known WebAssembly issue.\n\n" +
			"This happens due to engine compatibility or network issues.\n\n" +
			"💡 Options:\n1. Try the Python editor (fully functional)\n2. Retry to attempt reconnection\n" +
			"3. Check runtime.memory is large enough"
	case kind == adapter.KindBootstrapTransport:
		return "⚠️ R environment failed to load WebAssembly files.\n\n" +
			"This usually indicates network connectivity issues.\n\n" +
			"💡 Options:\n1. Check your internet connection\n2. Check r.artifact_url\n" +
			"3. Try the Python editor (fully functional)\n4. Retry\n\n" +
			"Error: " + err.Error()
	default:
		return "❌ R environment failed to initialize.\n\nError: " + err.Error() + "\n\n" +
			"💡 Solutions:\n1. Retry\n2. Clear the runtime cache\n3. Check internet connection\n\n" +
			"Python environment is available as alternative."
	}
}

// StartRetry allows four start attempts on the known transient faults,
// waiting 2s, 4s, 6s between them.
func (r *R) StartRetry() retry.Policy {
	return retry.Linear(4, 2*time.Second, func(err error) bool {
		msg := err.Error()
		return strings.Contains(msg, faultPayloadType) || strings.Contains(msg, faultLoadFailed)
	})
}

func (r *R) Strategy() adapter.Strategy { return adapter.Scoped }

// RunRetry allows three scoped attempts one second apart. The retryable
// predicate is IsBridgeFault.
func (r *R) RunRetry() retry.Policy {
	return retry.Linear(3, time.Second, r.IsBridgeFault)
}

func (r *R) IsBridgeFault(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, engine.ErrBridge) || strings.Contains(err.Error(), faultPayloadType)
}

func (r *R) PlotHint(code string) string {
	for _, call := range plotCalls {
		if strings.Contains(code, call) {
			return plotHint
		}
	}
	return ""
}

func (r *R) Args(boot string) []string {
	return []string{"R", "--vanilla", "--quiet", "--no-echo", "-e", boot}
}

func (r *R) BootScript() string { return bootScript }

func (r *R) Env() map[string]string {
	return map[string]string{
		"R_LIBS": "/packages",
		"HOME":   "/home/lab",
	}
}
