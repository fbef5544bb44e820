// Package main provides the bookshelf binary: a small records server for
// books and blog posts backed by SQLite.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"bookshelf/internal/adapters/driven/snapshot"
	"bookshelf/internal/config"

	"github.com/spf13/cobra"
)

// set with -ldflags "-X main.Version=..."
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const appName = "bookshelf"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Records server for books and blog posts",
		Long: `bookshelf stores books and blog posts in SQLite and serves them over HTTP.

Without a subcommand it runs the server. Configuration comes from defaults,
an optional YAML file, a .env file and environment variables, in that order.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd, flags)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create missing tables and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(cmd.Context(), flags, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				defer a.Close()

				fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", a.cfg.DatabasePath)
				return nil
			},
		},
		importCmd(flags),
		&cobra.Command{
			Use:   "export [dir]",
			Short: "Write every resource to <dir>/<resource>.json",
			Long:  "Write every resource to <dir>/<resource>.json. The directory defaults to EXPORT_DIR.",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(cmd.Context(), flags, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				defer a.Close()

				dir := a.cfg.ExportDir
				if len(args) == 1 {
					dir = args[0]
				}

				exporter := snapshot.NewExporter(a.svc, snapshot.NewFilePersister(dir, a.logger))
				counts, err := exporter.Export(cmd.Context())
				if err != nil {
					return err
				}
				for _, name := range a.svc.Resources() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records\n", name, counts[name])
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

func importCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import [files...]",
		Short: "Load snapshot files into the store",
		Long: `Load JSON or YAML snapshot files into the store.

With no files, or "-", a JSON document is read from stdin. Entries that
already exist are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			importer := snapshot.NewImporter(a.svc, a.logger)
			out := cmd.OutOrStdout()

			if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
				in := cmd.InOrStdin()
				if in == os.Stdin && !stdinIsPiped() {
					return fmt.Errorf("no files given and nothing piped on stdin")
				}
				a.cfg.OpMode = config.ModePipe
				a.logger.Info("importing", slog.String("mode", a.cfg.OpMode.String()))
				return importReader(cmd.Context(), importer, in, out)
			}

			a.cfg.OpMode = config.ModeFiles
			a.logger.Info("importing", slog.String("mode", a.cfg.OpMode.String()), slog.Int("files", len(args)))
			var total snapshot.Summary
			for _, path := range args {
				doc, err := snapshot.ReadFile(path)
				if err != nil {
					return err
				}
				summary, err := importer.Import(cmd.Context(), doc)
				total.Add(summary)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %s\n", path, summary)
			}
			fmt.Fprintf(out, "total: %s\n", total)
			return nil
		},
	}
}

func importReader(ctx context.Context, importer *snapshot.Importer, in io.Reader, out io.Writer) error {
	doc, err := snapshot.Decode(in, snapshot.FormatJSON)
	if err != nil {
		return fmt.Errorf("failed to parse JSON from stdin: %w", err)
	}

	summary, err := importer.Import(ctx, doc)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "stdin: %s\n", summary)
	return nil
}

// stdinIsPiped reports whether stdin is a pipe or file rather than a terminal.
func stdinIsPiped() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
