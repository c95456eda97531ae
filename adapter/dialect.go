package adapter

import (
	"github.com/caffeineduck/datalab/dataset"
	"github.com/caffeineduck/datalab/retry"
)

// Step identifies one stage of the bootstrap sequence.
type Step int

const (
	StepFetch Step = iota + 1
	StepStart
	StepSetup
	StepInstall
)

func (s Step) String() string {
	switch s {
	case StepFetch:
		return "fetch"
	case StepStart:
		return "start"
	case StepSetup:
		return "setup"
	case StepInstall:
		return "install"
	default:
		return "unknown"
	}
}

// Strategy selects how user code reaches the engine.
type Strategy int

const (
	// Direct evaluates with output redirected to a buffer.
	Direct Strategy = iota
	// Scoped evaluates through engine.Scoped, retrying bridge faults and
	// falling back to Direct.
	Scoped
)

// Messages holds the user-facing texts a dialect contributes.
type Messages struct {
	// Progress is published when a step begins. Steps without text are
	// silent.
	Progress map[Step]string
	Slow     string
	Ready    string
	Loading  string
	Cleared  string
	// BridgeFailed is shown when the fallback path also hits a bridge fault.
	BridgeFailed string
	// ExecError formats an engine error; it receives the error text.
	ExecError string
}

// Dialect is everything language-specific the adapter needs: identity,
// generated snippets, predicates, messages and retry policies.
type Dialect interface {
	Name() string
	DisplayName() string
	// Example is the canned editor content.
	Example() string

	Packages() []string
	// PackagesOptional reports whether a failed install still lets the
	// bootstrap succeed.
	PackagesOptional() bool
	SetupCode() string

	// BindCode binds name_csv to raw and name_data to its parsed table.
	BindCode(name, raw string) string
	// RestoreCode re-derives name_data from name_csv.
	RestoreCode(name string) string
	// PreviewCode prints the leading rows of name_data.
	PreviewCode(name string) string
	// Columns formats column names the way the language prints a list.
	Columns(cols []string) string
	// UsageSnippet is appended to the editor after a load. Empty means none.
	UsageSnippet(name string) string
	// Reserved reports whether a global belongs to the runtime rather than
	// the user.
	Reserved(name string) bool

	Messages() Messages
	// ClassifyBootstrap maps a failed step to a bootstrap category.
	ClassifyBootstrap(step Step, err error) ErrorKind
	// Diagnose renders a bootstrap failure with remediation text.
	Diagnose(kind ErrorKind, err error) string
	StartRetry() retry.Policy

	Strategy() Strategy
	RunRetry() retry.Policy
	IsBridgeFault(err error) bool
	// PlotHint returns guidance shown next to output when code draws plots.
	PlotHint(code string) string
}

// Confirmation renders the message printed after a dataset load, before the
// engine's preview of the leading rows.
func Confirmation(d Dialect, name string, t dataset.Table) string {
	return "Dataset '" + name + "' loaded successfully!\n" +
		"Shape: " + t.Shape() + "\n" +
		"Columns: " + d.Columns(t.Columns) + "\n" +
		"\nFirst 5 rows:\n"
}
