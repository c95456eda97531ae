package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/datalab/adapter"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run code once against loaded datasets",
	Long: `Boot the engine, load datasets, then execute Python or R code.

Code can be provided via:
  - File argument: datalab run analysis.py
  - Inline flag: datalab run -c 'print(iris_data[:3])' --dataset iris
  - Stdin: echo 'summary(iris_data)' | datalab run --lang r --dataset iris`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var errRunFailed = errors.New("run failed")

func init() {
	runCmd.Flags().StringP("code", "c", "", "Code to execute")
	runCmd.Flags().StringSliceP("dataset", "d", nil, "Dataset to load before running (repeatable)")
	rootCmd.AddCommand(runCmd)
}

// readSource returns the code from -c, the file argument or piped stdin,
// along with the file name if there was one.
func readSource(cmd *cobra.Command, args []string) (source, filename string, err error) {
	code, _ := cmd.Flags().GetString("code")
	switch {
	case code != "":
		return code, "", nil
	case len(args) > 0:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", "", err
		}
		return string(data), args[0], nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
			return "", "", nil
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", "", err
	}
	return string(data), "", nil
}

func runRun(cmd *cobra.Command, args []string) error {
	source, filename, err := readSource(cmd, args)
	if err != nil {
		return err
	}
	datasets, _ := cmd.Flags().GetStringSlice("dataset")
	if strings.TrimSpace(source) == "" && len(datasets) == 0 {
		return cmd.Help()
	}

	langFlag, _ := cmd.Flags().GetString("lang")
	lang, err := resolveLanguage(langFlag, filename)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ad, err := a.NewAdapter(lang)
	if err != nil {
		return err
	}
	defer ad.Close(context.Background())

	return session(ctx, ad, datasets, source, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// session boots ad, loads datasets and runs source. Any failed step makes
// the whole run fail after its message is printed.
func session(ctx context.Context, ad *adapter.Adapter, datasets []string, source string, out, errOut io.Writer) error {
	stop := printEvents(ad, errOut)
	err := ad.Initialize(ctx)
	stop()
	if err != nil {
		return err
	}

	for _, name := range datasets {
		r := ad.LoadDataset(ctx, name)
		printResult(out, r)
		if !r.OK() {
			return fmt.Errorf("%w: dataset %s", errRunFailed, name)
		}
	}

	if strings.TrimSpace(source) == "" {
		return nil
	}
	r := ad.Run(ctx, source)
	printResult(out, r)
	if !r.OK() {
		return fmt.Errorf("%w: %s", errRunFailed, r.Kind)
	}
	return nil
}

func printResult(w io.Writer, r adapter.Result) {
	fmt.Fprint(w, r.Output)
	if !strings.HasSuffix(r.Output, "\n") {
		fmt.Fprintln(w)
	}
	if r.Plot != "" {
		fmt.Fprintln(w, r.Plot)
	}
}
