package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caffeineduck/pyhost/executor"
	"github.com/caffeineduck/pyhost/hostfunc"
	"github.com/caffeineduck/pyhost/language/python"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive REPL with persistent state",
	Long: `Start an interactive Python session in the sandboxed interpreter.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

display() output is printed as text. Type 'exit' or 'quit' to end the
session, or press Ctrl+D.`,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.pyhost_history)")
	rootCmd.AddCommand(replCmd)
}

// lineReader yields complete inputs, joining lines that end in a backslash.
type lineReader struct {
	rl    *readline.Instance
	multi strings.Builder
}

func (r *lineReader) next() (string, error) {
	for {
		line, err := r.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			r.multi.Reset()
			r.rl.SetPrompt(">>> ")
			continue
		}
		if err != nil {
			return "", err
		}

		if strings.HasSuffix(line, "\\") {
			r.multi.WriteString(strings.TrimSuffix(line, "\\"))
			r.multi.WriteString("\n")
			r.rl.SetPrompt("... ")
			continue
		}
		if r.multi.Len() > 0 {
			r.multi.WriteString(line)
			line = r.multi.String()
			r.multi.Reset()
			r.rl.SetPrompt(">>> ")
		}
		return line, nil
	}
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".pyhost_history")
	}

	fetcher := newFetcher(cmd)
	mod := defaultModule(cmd, fetcher)

	exec, err := newExecutor(cmd, mod)
	if err != nil {
		return err
	}
	defer exec.Close()

	out := cmd.OutOrStdout()
	session, err := exec.NewSession(python.New(), mod, interpreterSessionOptions(cmd, hostfunc.NewTextDisplay(out))...)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(cmd.ErrOrStderr(), "pyhost python REPL (type 'exit' to quit, Ctrl+D to exit)")

	reader := &lineReader{rl: rl}
	for {
		line, err := reader.next()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		result := session.Exec(cmd.Context(), line, consoleTarget)
		if result.Output != "" {
			fmt.Fprint(out, result.Output)
			if !strings.HasSuffix(result.Output, "\n") {
				fmt.Fprintln(out)
			}
		}
		if result.Error == nil {
			continue
		}
		var pyErr *executor.PythonError
		if errors.As(result.Error, &pyErr) {
			fmt.Fprint(cmd.ErrOrStderr(), pyErr.Traceback)
			continue
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", result.Error)
		if errors.Is(result.Error, executor.ErrSessionClosed) {
			return result.Error
		}
	}
}
