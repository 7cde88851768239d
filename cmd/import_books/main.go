package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"library-catalog/library"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var expectedHeader = []string{"title", "author", "isbn", "copies"}

// summary counts the outcome of an import run.
type summary struct {
	imported int
	failed   int
}

func main() {
	library.LoadEnvFiles()
	cmd := newImportCmd(os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newImportCmd(stdout, stderr io.Writer) *cobra.Command {
	cfg := library.ConfigFromEnv()
	driver := string(cfg.Driver)

	cmd := &cobra.Command{
		Use:   "import_books <csv-file> <host> <user> <password> <database>",
		Short: "Bulk-load books into the catalog from a CSV file",
		Long: `Reads books from a CSV file with the header "title,author,isbn,copies" and
adds each row to the catalog. Rows that fail are reported and skipped.`,
		Args:          cobra.ExactArgs(5),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Driver = library.Driver(driver)
			cfg.Host, cfg.User, cfg.Password, cfg.Database = args[1], args[2], args[3], args[4]
			if err := cfg.Validate(); err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("error opening csv file: %w", err)
			}
			defer f.Close()

			db, err := library.NewDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			manager := library.NewLibraryManager(db, zap.NewNop())
			defer manager.Close()

			fmt.Fprintf(stdout, "Importing books from %s...\n", args[0])
			sum, err := importBooks(cmd.Context(), manager, f, stdout)
			fmt.Fprintf(stdout, "\nImport complete!\n")
			fmt.Fprintf(stdout, "Successfully imported: %d books\n", sum.imported)
			fmt.Fprintf(stdout, "Errors: %d\n", sum.failed)
			if err != nil {
				return err
			}
			if sum.imported > 0 {
				printCatalog(cmd.Context(), manager, stdout)
			}
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringVar(&driver, "driver", driver, `catalog store engine: "postgres" or "sqlite" (env LIBRARY_DRIVER)`)
	flags.IntVar(&cfg.Port, "port", cfg.Port, "PostgreSQL port (env LIBRARY_DB_PORT)")
	flags.StringVar(&cfg.SSLMode, "sslmode", cfg.SSLMode, "PostgreSQL sslmode (env LIBRARY_DB_SSLMODE)")
	flags.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "time allowed to reach the store (env LIBRARY_CONNECT_TIMEOUT)")
	return cmd
}

// importBooks adds every data row of r to the catalog. A bad row is counted and
// skipped; a malformed file or a lost store stops the run.
func importBooks(ctx context.Context, manager *library.LibraryManager, r io.Reader, out io.Writer) (summary, error) {
	var sum summary
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	// Column counts are checked per row so a short row is reported, not fatal.
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return sum, fmt.Errorf("error reading csv header: %w", err)
	}
	header = lo.Map(header, func(h string, _ int) string { return strings.ToLower(strings.TrimSpace(h)) })
	if len(header) != len(expectedHeader) || strings.Join(header, ",") != strings.Join(expectedHeader, ",") {
		return sum, fmt.Errorf("unexpected csv header %q, want %q", strings.Join(header, ","), strings.Join(expectedHeader, ","))
	}

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return sum, nil
		}
		if err != nil {
			return sum, fmt.Errorf("error reading csv: %w", err)
		}
		line, _ := cr.FieldPos(0)

		nb, err := parseRow(record)
		if err != nil {
			fmt.Fprintf(out, "Line %d: ERROR - %v\n", line, err)
			sum.failed++
			continue
		}

		fmt.Fprintf(out, "Importing: %s by %s... ", nb.Title, nb.Author)
		b, err := manager.AddBook(ctx, nb)
		if err != nil {
			fmt.Fprintf(out, "ERROR - %v\n", err)
			sum.failed++
			if library.IsConnectionFailure(err) {
				return sum, err
			}
			continue
		}
		fmt.Fprintf(out, "SUCCESS (ID: %d)\n", b.ID)
		sum.imported++
	}
}

func parseRow(record []string) (library.NewBook, error) {
	if len(record) != len(expectedHeader) {
		return library.NewBook{}, fmt.Errorf("expected %d fields, got %d", len(expectedHeader), len(record))
	}
	copies, err := strconv.Atoi(strings.TrimSpace(record[3]))
	if err != nil {
		return library.NewBook{}, fmt.Errorf("invalid copies %q", record[3])
	}
	return library.NewBook{
		Title:       record[0],
		Author:      record[1],
		ISBN:        record[2],
		TotalCopies: copies,
	}, nil
}

func printCatalog(ctx context.Context, manager *library.LibraryManager, out io.Writer) {
	books, err := manager.ListBooks(ctx)
	if err != nil {
		fmt.Fprintf(out, "Error retrieving books: %v\n", err)
		return
	}
	fmt.Fprintln(out, "\nCatalog:")
	fmt.Fprintf(out, "%-5s %-30s %-20s %-18s %-8s %-10s\n", "ID", "Title", "Author", "ISBN", "Total", "Available")
	fmt.Fprintln(out, strings.Repeat("-", 95))
	for _, b := range books {
		fmt.Fprintln(out, library.PrettyBook(b))
	}
}
