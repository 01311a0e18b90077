package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoice-ingest/internal/document"
	"github.com/zombor/invoice-ingest/internal/extraction"
	"github.com/zombor/invoice-ingest/internal/invoice"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// config holds the flags shared by every command
type config struct {
	dbPath      *string
	dbDriver    *string
	storagePath *string
	layoutPath  *string
	failFast    *bool
	logLevel    *string
}

// openService wires the store, archive and assembler selected by cfg.
// The returned close func releases the store.
func (c config) openService() (*invoice.Service, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(*c.logLevel)); err != nil {
		return nil, nil, fmt.Errorf("parsing log level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var opts []extraction.Option
	if *c.layoutPath != "" {
		fields, err := extraction.LoadLayout(*c.layoutPath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Loaded layout", "path", *c.layoutPath, "fields", len(fields))
		opts = append(opts, extraction.WithLayout(fields))
	}
	if *c.failFast {
		opts = append(opts, extraction.WithFailFast())
	}

	slog.Debug("Initializing database...", "driver", *c.dbDriver, "path", *c.dbPath)
	var (
		db  invoice.DB
		err error
	)
	switch *c.dbDriver {
	case "sqlite":
		db, err = invoice.NewSQLiteDB(*c.dbPath)
	case "bolt":
		db, err = invoice.NewBoltDB(*c.dbPath)
	default:
		return nil, nil, fmt.Errorf("invalid db driver %q: want sqlite or bolt", *c.dbDriver)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("initializing database: %w", err)
	}

	archive, err := invoice.NewDirArchive(*c.storagePath)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("initializing storage: %w", err)
	}

	closeDB := func() {
		if err := db.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}
	return invoice.NewService(db, extraction.NewAssembler(opts...), archive), closeDB, nil
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	root := newRootCommand(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("INVOICE_INGEST"))
	switch {
	case err == nil:
	case errors.Is(err, ff.ErrHelp):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
	default:
		if sel := root.GetSelected(); sel != nil && errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(sel))
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("invoice-ingest")
	cfg := config{
		dbPath:      fs.StringLong("db", "invoices.db", "Database file path"),
		dbDriver:    fs.StringLong("db-driver", "sqlite", "Database driver: 'sqlite' or 'bolt'"),
		storagePath: fs.StringLong("storage", "./documents", "Directory for archived source documents"),
		layoutPath:  fs.StringLong("layout", "", "YAML file overriding field labels and patterns (optional)"),
		failFast:    fs.BoolLong("fail-fast", "Stop extraction at the first field error"),
		logLevel:    fs.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
	}
	_ = fs.BoolLong("version", "Show version information")

	root := &ff.Command{
		Name:      "invoice-ingest",
		Usage:     "invoice-ingest [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "extract invoices from emails and documents into a database",
		Flags:     fs,
	}
	root.Subcommands = []*ff.Command{
		processCommand(fs, cfg, stdout),
		batchCommand(fs, cfg, stdout),
		listCommand(fs, cfg, stdout),
		exportCommand(fs, cfg, stdout),
		serveCommand(fs, cfg),
	}
	return root
}

func processCommand(parent *ff.FlagSet, cfg config, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("process").SetParent(parent)
	emailPath := fs.StringLong("email", "", "Email (.eml) file carrying the invoice")
	fallbackPath := fs.StringLong("fallback-pdf", "", "PDF to use when the email has no PDF attachment")

	return &ff.Command{
		Name:      "process",
		Usage:     "invoice-ingest process [FLAGS] [FILE ...]",
		ShortHelp: "extract and store invoices from an email or documents",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if *emailPath == "" && len(args) == 0 {
				return errors.New("process needs --email or at least one file")
			}

			var fallback *document.Attachment
			if *fallbackPath != "" {
				data, err := os.ReadFile(*fallbackPath)
				if err != nil {
					return fmt.Errorf("reading fallback document: %w", err)
				}
				fallback = &document.Attachment{
					Filename:    filepath.Base(*fallbackPath),
					ContentType: document.ContentTypeFromFilename(*fallbackPath),
					Data:        data,
				}
			}

			service, closeDB, err := cfg.openService()
			if err != nil {
				return err
			}
			defer closeDB()

			if *emailPath != "" {
				data, err := os.ReadFile(*emailPath)
				if err != nil {
					return fmt.Errorf("reading email: %w", err)
				}
				inv, err := service.ProcessEmail(ctx, data, fallback)
				if err != nil {
					return err
				}
				printInvoice(stdout, inv)
			}

			for _, path := range args {
				inv, err := service.ProcessFile(ctx, path, fallback)
				if err != nil {
					return err
				}
				printInvoice(stdout, inv)
			}
			return nil
		},
	}
}

func batchCommand(parent *ff.FlagSet, cfg config, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("batch").SetParent(parent)
	workers := fs.IntLong("workers", 4, "Number of documents processed concurrently")

	return &ff.Command{
		Name:      "batch",
		Usage:     "invoice-ingest batch [FLAGS] FILE ...",
		ShortHelp: "process many emails or documents concurrently",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return errors.New("batch needs at least one file")
			}

			service, closeDB, err := cfg.openService()
			if err != nil {
				return err
			}
			defer closeDB()

			result := service.ProcessBatch(ctx, args, *workers)
			for _, item := range result.Items {
				if item.Err != nil {
					fmt.Fprintf(stdout, "FAIL  %s: %v\n", item.Path, item.Err)
					continue
				}
				fmt.Fprintf(stdout, "OK    %s: #%d %s\n", item.Path, item.Invoice.ID, item.Invoice.InvoiceNumber)
			}

			if failed := len(result.Failed()); failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}
}

func listCommand(parent *ff.FlagSet, cfg config, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("list").SetParent(parent)

	return &ff.Command{
		Name:      "list",
		Usage:     "invoice-ingest list",
		ShortHelp: "list stored invoices",
		Flags:     fs,
		Exec: func(ctx context.Context, _ []string) error {
			service, closeDB, err := cfg.openService()
			if err != nil {
				return err
			}
			defer closeDB()

			invoices, err := service.ListInvoices(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNUMBER\tDATE\tSUPPLIER\tCUSTOMER\tTOTAL\tITEMS")
			for _, inv := range invoices {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\n",
					inv.ID,
					inv.InvoiceNumber,
					inv.InvoiceDate.Format("2006-01-02"),
					inv.Supplier,
					inv.Customer,
					inv.Total.StringFixed(2),
					len(inv.Items),
				)
			}
			return tw.Flush()
		},
	}
}

func exportCommand(parent *ff.FlagSet, cfg config, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("export").SetParent(parent)
	out := fs.StringLong("out", "invoices.xlsx", "Output XLSX file, or - for stdout")

	return &ff.Command{
		Name:      "export",
		Usage:     "invoice-ingest export [FLAGS]",
		ShortHelp: "export stored invoices to an XLSX workbook",
		Flags:     fs,
		Exec: func(ctx context.Context, _ []string) error {
			service, closeDB, err := cfg.openService()
			if err != nil {
				return err
			}
			defer closeDB()

			if *out == "-" {
				return service.ExportXLSX(ctx, stdout)
			}

			f, err := os.Create(*out)
			if err != nil {
				return fmt.Errorf("creating %s: %w", *out, err)
			}
			if err := service.ExportXLSX(ctx, f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", *out, err)
			}
			slog.Info("Exported invoices", "path", *out)
			return nil
		},
	}
}

func serveCommand(parent *ff.FlagSet, cfg config) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	port := fs.IntLong("port", 8080, "HTTP server port")
	authUser := fs.StringLong("auth-user", "", "Basic auth username (optional)")
	authPass := fs.StringLong("auth-pass", "", "Basic auth password (optional)")

	return &ff.Command{
		Name:      "serve",
		Usage:     "invoice-ingest serve [FLAGS]",
		ShortHelp: "serve the upload and query API over HTTP",
		Flags:     fs,
		Exec: func(ctx context.Context, _ []string) error {
			service, closeDB, err := cfg.openService()
			if err != nil {
				return err
			}
			defer closeDB()

			server := invoice.NewServer(service, invoice.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			})

			addr := fmt.Sprintf(":%d", *port)
			slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}

			if err := server.Start(ctx, addr); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			slog.Info("Server stopped")
			return nil
		},
	}
}

func printInvoice(w io.Writer, inv *invoice.Invoice) {
	fmt.Fprintf(w, "Stored invoice #%d\n", inv.ID)
	fmt.Fprintf(w, "  Number:    %s\n", inv.InvoiceNumber)
	fmt.Fprintf(w, "  Date:      %s\n", inv.InvoiceDate.Format("2006-01-02"))
	fmt.Fprintf(w, "  Supplier:  %s (%s)\n", inv.Supplier, inv.SupplierGSTIN)
	fmt.Fprintf(w, "  Customer:  %s (%s)\n", inv.Customer, inv.CustomerGSTIN)
	for _, item := range inv.Items {
		fmt.Fprintf(w, "  %-20s %4d x %10s = %10s\n",
			item.Description, item.Quantity, item.UnitPrice.StringFixed(2), item.LineTotal.StringFixed(2))
	}
	fmt.Fprintf(w, "  Subtotal:  %s\n", inv.Subtotal.StringFixed(2))
	fmt.Fprintf(w, "  Tax:       %s (%s%%)\n", inv.Tax.StringFixed(2), inv.TaxRate.String())
	fmt.Fprintf(w, "  Total:     %s\n", inv.Total.StringFixed(2))
	for _, d := range inv.Discrepancies() {
		fmt.Fprintf(w, "  warning: %s\n", d)
	}
}
