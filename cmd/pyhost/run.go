package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caffeineduck/pyhost/executor"
	"github.com/caffeineduck/pyhost/hostfunc"
	"github.com/caffeineduck/pyhost/language/python"
	"github.com/spf13/cobra"
)

// consoleTarget is the display target of sessions that have no page.
const consoleTarget = "stdout"

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run a Python script outside a page",
	Long: `Execute Python code in the sandboxed interpreter. display() output is
printed as text.

Code can be provided via:
  - File argument: pyhost run script.py
  - Inline flag: pyhost run -c 'print(1+1)'
  - Stdin: echo 'print(1+1)' | pyhost run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringP("code", "c", "", "Code to execute")
	rootCmd.AddCommand(runCmd)
}

func readSource(cmd *cobra.Command, args []string) (string, bool, error) {
	if code, _ := cmd.Flags().GetString("code"); code != "" {
		return code, true, nil
	}
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", false, err
		}
		return string(data), true, nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
			return "", false, nil
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", false, err
	}
	return string(data), len(data) > 0, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	source, ok, err := readSource(cmd, args)
	if err != nil {
		return err
	}
	if !ok {
		return cmd.Help()
	}

	fetcher := newFetcher(cmd)
	mod := defaultModule(cmd, fetcher)

	exec, err := newExecutor(cmd)
	if err != nil {
		return err
	}
	defer exec.Close()

	out := cmd.OutOrStdout()
	display := hostfunc.NewTextDisplay(out)
	session, err := exec.NewSession(python.New(), mod, interpreterSessionOptions(cmd, display)...)
	if err != nil {
		return err
	}
	defer session.Close()

	result := session.Exec(cmd.Context(), source, consoleTarget)
	fmt.Fprint(out, result.Output)
	return reportResult(cmd, result.Error)
}

// reportResult prints a script failure to stderr, the traceback in full for
// interpreter exceptions.
func reportResult(cmd *cobra.Command, err error) error {
	if err == nil {
		return nil
	}
	var pyErr *executor.PythonError
	if errors.As(err, &pyErr) {
		fmt.Fprint(cmd.ErrOrStderr(), pyErr.Traceback)
	}
	return err
}
