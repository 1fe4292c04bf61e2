// Package cli implements the passerine command surface: run a script,
// inspect pipeline stages, compile to an artifact, or watch a file and
// re-run it on change.
package cli

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/logutils"
	"github.com/spf13/cobra"

	"github.com/vrtbl/passerine/core/diag"
	"github.com/vrtbl/passerine/core/value"
	"github.com/vrtbl/passerine/runtime"
	"github.com/vrtbl/passerine/runtime/artifact"
	"github.com/vrtbl/passerine/runtime/parser"
)

// Execute runs the CLI and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	var (
		debug  bool
		budget int
		output string
	)

	root := &cobra.Command{
		Use:           "passerine",
		Short:         "Run and inspect passerine programs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable [DEBUG] logging")
	root.PersistentFlags().IntVar(&budget, "budget", 0, "opcode budget (0 = unbounded)")

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		minLevel := logutils.LogLevel("WARN")
		if debug {
			minLevel = "DEBUG"
		}
		log.SetOutput(&logutils.LevelFilter{
			Levels:   []logutils.LogLevel{"DEBUG", "WARN", "ERROR"},
			MinLevel: minLevel,
			Writer:   stderr,
		})
		log.SetFlags(0)
	}

	runCmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a source file and print its final value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(args[0], budget, stdout)
		},
	}

	lexCmd := &cobra.Command{
		Use:   "lex <file>",
		Short: "Print the token stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, name, err := readSource(args[0])
			if err != nil {
				return err
			}
			tokens, derr := runtime.Lex(source, runtime.WithSourceName(name))
			if derr != nil {
				return derr
			}
			for _, tok := range tokens {
				fmt.Fprintf(stdout, "%-8s %-12q %s\n", tok.Type, tok.Text, tok.Span)
			}
			return nil
		},
	}

	parseCmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Print the desugared canonical tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, name, err := readSource(args[0])
			if err != nil {
				return err
			}
			tree, derr := runtime.Desugar(source, runtime.WithSourceName(name))
			if derr != nil {
				return derr
			}
			fmt.Fprintln(stdout, parser.PrintModule(tree))
			return nil
		},
	}

	compileCmd := &cobra.Command{
		Use:   "compile <file>",
		Short: "Compile a source file; print the disassembly or write an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, name, err := readSource(args[0])
			if err != nil {
				return err
			}
			lambda, derr := runtime.Compile(source, runtime.WithSourceName(name))
			if derr != nil {
				return derr
			}
			if output == "" {
				fmt.Fprint(stdout, lambda.Disassemble())
				return nil
			}
			data, err := artifact.Encode(lambda)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("writing artifact: %w", err)
			}
			log.Printf("[DEBUG] wrote %d artifact bytes to %s", len(data), output)
			return nil
		},
	}
	compileCmd.Flags().StringVarP(&output, "output", "o", "", "write a compiled artifact instead of disassembly")

	watchCmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Re-run a source file every time it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchFile(args[0], budget, stdout, stderr)
		},
	}

	root.AddCommand(runCmd, lexCmd, parseCmd, compileCmd, watchCmd)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		if d, ok := err.(*diag.Diagnostic); ok {
			fmt.Fprintln(stderr, d.Error())
		} else {
			fmt.Fprintln(stderr, "error:", err)
		}
		return 1
	}
	return 0
}

func readSource(path string) (source, name string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("reading source: %w", err)
	}
	return string(data), filepath.Base(path), nil
}

func runFile(path string, budget int, stdout io.Writer) error {
	source, name, err := readSource(path)
	if err != nil {
		return err
	}

	opts := []runtime.Opt{
		runtime.WithSourceName(name),
		runtime.WithOut(stdout),
	}
	if budget > 0 {
		opts = append(opts, runtime.WithBudget(budget))
	}

	result, derr := runtime.Run(source, opts...)
	if derr != nil {
		return derr
	}
	fmt.Fprintln(stdout, value.Repr(result))
	return nil
}

// watchFile re-runs the file on every write until interrupted. Failures
// print and the watch continues; only watcher breakage ends the loop.
func watchFile(path string, budget int, stdout, stderr io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors that rename on
	// save would otherwise drop the watch after the first write.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	target := filepath.Clean(path)
	rerun := func() {
		if err := runFile(path, budget, stdout); err != nil {
			fmt.Fprintln(stderr, err)
		}
	}
	rerun()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			log.Printf("[DEBUG] %s changed, re-running", path)
			rerun()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher failed: %w", err)

		case <-interrupt:
			return nil
		}
	}
}
