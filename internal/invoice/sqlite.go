package invoice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/zombor/invoice-ingest/internal/extraction"
)

const dateLayout = "2006-01-02"

const createInvoicesTable = `
CREATE TABLE IF NOT EXISTS invoices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	invoice_number TEXT,
	invoice_date TEXT,
	supplier TEXT,
	customer TEXT,
	billing_address TEXT,
	shipping_address TEXT,
	supplier_gstin TEXT,
	customer_gstin TEXT,
	subtotal TEXT,
	tax TEXT,
	total TEXT
)`

const createItemsTable = `
CREATE TABLE IF NOT EXISTS invoice_items (
	invoice_id INTEGER NOT NULL REFERENCES invoices(id),
	position INTEGER NOT NULL,
	description TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	unit_price TEXT NOT NULL,
	line_total TEXT NOT NULL,
	PRIMARY KEY (invoice_id, position)
)`

// extraColumns are added to invoices tables created without them
var extraColumns = []string{
	"tax_rate",
	"source_filename",
	"content_type",
	"sender",
	"recipient",
	"subject",
	"created_at",
}

const invoiceColumns = `id, invoice_number, invoice_date, supplier, customer, billing_address,
	shipping_address, supplier_gstin, customer_gstin, subtotal, tax, total,
	tax_rate, source_filename, content_type, sender, recipient, subject, created_at`

// SQLiteDB implements the DB interface on an SQLite file. Values are stored
// as TEXT; amounts keep two decimal places.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens path and creates the schema if it is missing
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One connection gives a single writer and keeps the pragmas below alive.
	db.SetMaxOpenConns(1)

	s := &SQLiteDB{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) migrate(ctx context.Context) error {
	for _, stmt := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		createInvoicesTable,
		createItemsTable,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	existing, err := s.columns(ctx, "invoices")
	if err != nil {
		return err
	}
	for _, col := range extraColumns {
		if existing[col] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE invoices ADD COLUMN %s TEXT", col)); err != nil {
			return fmt.Errorf("adding column %s: %w", col, err)
		}
	}
	return nil
}

func (s *SQLiteDB) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scanning column of %s: %w", table, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// SaveInvoice inserts the invoice and its items in one transaction
func (s *SQLiteDB) SaveInvoice(ctx context.Context, inv *Invoice) (int64, error) {
	id, err := s.insert(ctx, inv)
	if err != nil {
		return 0, &StoreWriteError{Op: "insert invoice", Err: err}
	}
	inv.ID = id
	return id, nil
}

func (s *SQLiteDB) insert(ctx context.Context, inv *Invoice) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO invoices (invoice_number, invoice_date, supplier, customer, billing_address,
			shipping_address, supplier_gstin, customer_gstin, subtotal, tax, total,
			tax_rate, source_filename, content_type, sender, recipient, subject, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.InvoiceNumber, inv.InvoiceDate.Format(dateLayout), inv.Supplier, inv.Customer, inv.BillingAddress,
		inv.ShippingAddress, inv.SupplierGSTIN, inv.CustomerGSTIN,
		inv.Subtotal.StringFixed(2), inv.Tax.StringFixed(2), inv.Total.StringFixed(2),
		inv.TaxRate.String(), inv.SourceFilename, inv.ContentType, inv.Sender, inv.Recipient, inv.Subject,
		inv.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting invoice: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading invoice id: %w", err)
	}

	for i, item := range inv.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_items (invoice_id, position, description, quantity, unit_price, line_total)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, i, item.Description, item.Quantity, item.UnitPrice.StringFixed(2), item.LineTotal.StringFixed(2),
		)
		if err != nil {
			return 0, fmt.Errorf("inserting item %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}
	return id, nil
}

// GetInvoice retrieves an invoice and its items by ID
func (s *SQLiteDB) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = ?", id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	items, err := s.items(ctx, "WHERE invoice_id = ?", id)
	if err != nil {
		return nil, err
	}
	inv.Items = items[id]
	if inv.Items == nil {
		inv.Items = []extraction.LineItem{}
	}
	return inv, nil
}

// ListInvoices returns all invoices with their items ordered by ID
func (s *SQLiteDB) ListInvoices(ctx context.Context) ([]*Invoice, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+invoiceColumns+" FROM invoices ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]*Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invoices: %w", err)
	}

	items, err := s.items(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, inv := range invoices {
		inv.Items = items[inv.ID]
		if inv.Items == nil {
			inv.Items = []extraction.LineItem{}
		}
	}
	return invoices, nil
}

func (s *SQLiteDB) items(ctx context.Context, where string, args ...any) (map[int64][]extraction.LineItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT invoice_id, description, quantity, unit_price, line_total FROM invoice_items "+where+" ORDER BY invoice_id, position",
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	byInvoice := make(map[int64][]extraction.LineItem)
	for rows.Next() {
		var (
			invoiceID            int64
			item                 extraction.LineItem
			unitPrice, lineTotal string
		)
		if err := rows.Scan(&invoiceID, &item.Description, &item.Quantity, &unitPrice, &lineTotal); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		if item.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("decoding unit price of invoice %d: %w", invoiceID, err)
		}
		if item.LineTotal, err = decimal.NewFromString(lineTotal); err != nil {
			return nil, fmt.Errorf("decoding line total of invoice %d: %w", invoiceID, err)
		}
		byInvoice[invoiceID] = append(byInvoice[invoiceID], item)
	}
	return byInvoice, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanInvoice reads one invoices row. Columns may be NULL for rows written
// before the extra columns existed.
func scanInvoice(row rowScanner) (*Invoice, error) {
	var (
		inv  Invoice
		cols [18]sql.NullString
	)
	dest := []any{&inv.ID}
	for i := range cols {
		dest = append(dest, &cols[i])
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning invoice: %w", err)
	}

	inv.InvoiceNumber = cols[0].String
	inv.Supplier = cols[2].String
	inv.Customer = cols[3].String
	inv.BillingAddress = cols[4].String
	inv.ShippingAddress = cols[5].String
	inv.SupplierGSTIN = cols[6].String
	inv.CustomerGSTIN = cols[7].String
	inv.SourceFilename = cols[12].String
	inv.ContentType = cols[13].String
	inv.Sender = cols[14].String
	inv.Recipient = cols[15].String
	inv.Subject = cols[16].String

	var err error
	if cols[1].String != "" {
		if inv.InvoiceDate, err = time.Parse(dateLayout, cols[1].String); err != nil {
			return nil, fmt.Errorf("decoding date of invoice %d: %w", inv.ID, err)
		}
	}
	amounts := []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&inv.Subtotal, cols[8].String},
		{&inv.Tax, cols[9].String},
		{&inv.Total, cols[10].String},
		{&inv.TaxRate, cols[11].String},
	}
	for _, a := range amounts {
		if a.raw == "" {
			continue
		}
		if *a.dst, err = decimal.NewFromString(a.raw); err != nil {
			return nil, fmt.Errorf("decoding amount of invoice %d: %w", inv.ID, err)
		}
	}
	if cols[17].String != "" {
		if inv.CreatedAt, err = time.Parse(time.RFC3339Nano, cols[17].String); err != nil {
			return nil, fmt.Errorf("decoding created_at of invoice %d: %w", inv.ID, err)
		}
	}

	return &inv, nil
}

// Close closes the database
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
