package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"library-catalog/library"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// usageError marks a bad command line, reported with the usage text.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

func main() {
	library.LoadEnvFiles()
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// execute runs the CLI and maps the outcome to a process exit code.
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdin, stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	var uErr *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &uErr):
		fmt.Fprintf(stderr, "Error: %v\n%s", err, cmd.UsageString())
		return exitUsage
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cfg := library.ConfigFromEnv()
	driver := string(cfg.Driver)
	logLevel := os.Getenv("LIBRARY_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "warn"
	}

	cmd := &cobra.Command{
		Use:   "library-catalog <host> <user> <password> <database>",
		Short: "Manage a library catalog: books, members, and book issue/return",
		Long: `Manage a library catalog from a numbered menu on standard input.

The four positional arguments address the catalog store. Pass "-" as the
password to be prompted for it. With --driver sqlite the database argument is
a file path and the other three are ignored.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MinimumNArgs(4)(cmd, args); err != nil {
				return &usageError{err}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Driver = library.Driver(driver)
			cfg.Host, cfg.User, cfg.Password, cfg.Database = args[0], args[1], args[2], args[3]
			if err := cfg.Validate(); err != nil {
				return &usageError{err}
			}

			logger, err := newLogger(logLevel, stderr)
			if err != nil {
				return &usageError{err}
			}
			defer logger.Sync()

			sc := bufio.NewScanner(stdin)
			if cfg.Password == "-" {
				if cfg.Password, err = readPassword(sc, stdin, stdout, "Password: "); err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
			}

			db, err := library.NewDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			logger.Info("connected to catalog store", zap.String("dsn", cfg.Redacted()))

			mgr := library.NewLibraryManager(db, logger)
			defer mgr.Close()

			return newSession(cmd.Context(), mgr, sc, stdout).run()
		},
	}

	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return &usageError{err} })

	flags := cmd.Flags()
	flags.StringVar(&driver, "driver", driver, `catalog store engine: "postgres" or "sqlite" (env LIBRARY_DRIVER)`)
	flags.IntVar(&cfg.Port, "port", cfg.Port, "PostgreSQL port (env LIBRARY_DB_PORT)")
	flags.StringVar(&cfg.SSLMode, "sslmode", cfg.SSLMode, "PostgreSQL sslmode (env LIBRARY_DB_SSLMODE)")
	flags.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "time allowed to reach the store (env LIBRARY_CONNECT_TIMEOUT)")
	flags.StringVar(&logLevel, "log-level", logLevel, "debug, info, warn or error (env LIBRARY_LOG_LEVEL)")
	return cmd
}

// newLogger writes console-encoded entries to w, which keeps them apart from
// the menu on stdout.
func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}

// readPassword reads a password with masking when stdin is a terminal and as a
// plain line otherwise.
func readPassword(sc *bufio.Scanner, stdin io.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		fmt.Fprintln(out) // Add newline after password input
		return strings.TrimSpace(string(bytePassword)), nil
	}
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", errInputClosed
	}
	return strings.TrimSpace(sc.Text()), nil
}
