package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/datalab/adapter"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive REPL with persistent state",
	Long: `Start an interactive REPL (Read-Eval-Print Loop) session.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Meta commands:
  :load NAME   load a dataset as NAME_data and NAME_csv
  :clear       remove user variables, keeping datasets
  :datasets    list datasets loaded this session
  :retry       restart a failed engine
  :state       show engine state
  :help        show this list

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	Args: cobra.NoArgs,
	RunE: runRepl,
}

const replHelp = `:load NAME   load a dataset
:clear       remove user variables, keeping datasets
:datasets    list loaded datasets
:retry       restart a failed engine
:state       show engine state
exit, quit   leave the REPL`

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.datalab_history)")
	replCmd.Flags().StringSliceP("dataset", "d", nil, "Dataset to load at start (repeatable)")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) error {
	langFlag, _ := cmd.Flags().GetString("lang")
	historyFile, _ := cmd.Flags().GetString("history")
	datasets, _ := cmd.Flags().GetStringSlice("dataset")

	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".datalab_history")
	}

	lang, err := resolveLanguage(langFlag, "")
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ad, err := a.NewAdapter(lang)
	if err != nil {
		return err
	}
	defer ad.Close(ctx)

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	// A failed bootstrap leaves the REPL usable so :retry can recover.
	stop := printEvents(ad, errOut)
	if err := ad.Initialize(ctx); err == nil {
		for _, name := range datasets {
			printResult(out, ad.LoadDataset(ctx, name))
		}
	}
	stop()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdout:            out,
		Stderr:            errOut,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(errOut, "datalab %s REPL (:help for commands, 'exit' or Ctrl+D to quit)\n", ad.Dialect().DisplayName())

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
				}
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(out)
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		if quit := dispatch(ctx, ad, line, out); quit {
			return nil
		}
	}
}

// dispatch handles one REPL entry and reports whether the REPL should exit.
func dispatch(ctx context.Context, ad *adapter.Adapter, line string, out io.Writer) bool {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return false
	case trimmed == "exit" || trimmed == "quit":
		return true
	case !strings.HasPrefix(trimmed, ":"):
		printResult(out, ad.Run(ctx, line))
		return false
	}

	fields := strings.Fields(trimmed)
	switch fields[0] {
	case ":load":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: :load NAME")
			return false
		}
		printResult(out, ad.LoadDataset(ctx, fields[1]))
	case ":clear":
		printResult(out, ad.Clear(ctx))
	case ":datasets":
		loaded := ad.LoadedDatasets()
		if len(loaded) == 0 {
			fmt.Fprintln(out, "no datasets loaded")
			return false
		}
		fmt.Fprintln(out, strings.Join(loaded, "\n"))
	case ":retry":
		if err := ad.Retry(ctx); err != nil {
			fmt.Fprintf(out, "retry failed: %v\n", err)
			return false
		}
		fmt.Fprintln(out, ad.Dialect().Messages().Ready)
	case ":state":
		st := ad.State()
		fmt.Fprintf(out, "language: %s\nstatus:   %s\ndatasets: %s\n",
			st.Language, st.Status, strings.Join(st.LoadedDatasets, ", "))
		if st.LastErrorKind != adapter.KindNone {
			fmt.Fprintf(out, "last error: %s\n", st.LastErrorKind)
		}
	case ":help":
		fmt.Fprintln(out, replHelp)
	default:
		fmt.Fprintf(out, "unknown command %s (:help lists commands)\n", fields[0])
	}
	return false
}
