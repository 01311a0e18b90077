package invoice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-ingest/internal/document"
	"github.com/zombor/invoice-ingest/internal/extraction"
)

// ErrNoInvoiceDocument is returned for an email with nothing to extract from
var ErrNoInvoiceDocument = errors.New("email has no invoice document")

// Extractor turns document text into an invoice record
type Extractor interface {
	Assemble(text string) (extraction.Record, error)
}

// IDGenerator generates unique names for archived documents
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Service runs documents through extraction and stores the results
type Service struct {
	db          DB
	extractor   Extractor
	archive     Archive
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a Service with uuid names and the system clock
func NewService(db DB, extractor Extractor, archive Archive) *Service {
	return NewServiceWithDeps(db, extractor, archive, uuidGenerator{}, systemClock{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor Extractor, archive Archive, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		archive:     archive,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips everything but letters, digits, blanks, hyphens
// and underscores from the base name and caps it at 50 characters.
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = unsafeChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(spaceRuns.ReplaceAllString(base, " "))
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "invoice"
	}
	return base + strings.ToLower(ext)
}

// source describes where a document came from
type source struct {
	filename    string
	contentType string
	sender      string
	recipient   string
	subject     string
}

// ProcessDocument extracts an invoice from a PDF or text document and stores
// it. Nothing is stored, and the archived copy is removed, if any step fails.
func (s *Service) ProcessDocument(ctx context.Context, filename string, data []byte, contentType string) (*Invoice, error) {
	return s.process(ctx, source{filename: filename, contentType: contentType}, data)
}

// ProcessEmail extracts the invoice carried by an email. A PDF attachment is
// preferred, then fallback when given, then the plain text body.
func (s *Service) ProcessEmail(ctx context.Context, data []byte, fallback *document.Attachment) (*Invoice, error) {
	email, err := document.ParseEmail(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing email: %w", err)
	}
	slog.Info("Parsed email",
		"sender", email.Sender,
		"recipient", email.Recipient,
		"subject", email.Subject,
		"attachments", len(email.Attachments),
	)

	doc, ok := email.PDFAttachment()
	if !ok && fallback != nil {
		doc, ok = *fallback, true
	}
	if !ok {
		doc, ok = email.InvoiceDocument()
	}
	if !ok {
		return nil, ErrNoInvoiceDocument
	}

	contentType := document.NormalizeContentType(doc.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = document.ContentTypeFromFilename(doc.Filename)
	}

	return s.process(ctx, source{
		filename:    doc.Filename,
		contentType: contentType,
		sender:      email.Sender,
		recipient:   email.Recipient,
		subject:     email.Subject,
	}, doc.Data)
}

// ProcessFile reads path and processes it as an email or a document
// depending on its extension.
func (s *Service) ProcessFile(ctx context.Context, path string, fallback *document.Attachment) (*Invoice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	contentType := document.ContentTypeFromFilename(path)
	if contentType == "message/rfc822" {
		return s.ProcessEmail(ctx, data, fallback)
	}
	return s.ProcessDocument(ctx, filepath.Base(path), data, contentType)
}

func (s *Service) process(ctx context.Context, src source, data []byte) (*Invoice, error) {
	// A started document runs to completion even if the caller cancels.
	ctx = context.WithoutCancel(ctx)

	name := fmt.Sprintf("%s_%s", s.idGenerator.Generate(), sanitizeFilename(src.filename))
	saved, err := s.archive.Put(name, data)
	if err != nil {
		return nil, fmt.Errorf("archiving %s: %w", src.filename, err)
	}

	inv, err := s.extractAndSave(ctx, src, saved, data)
	if err != nil {
		if delErr := s.archive.Delete(saved); delErr != nil {
			slog.Warn("Failed to delete archived document", "filename", saved, "error", delErr)
		}
		return nil, err
	}
	return inv, nil
}

func (s *Service) extractAndSave(ctx context.Context, src source, saved string, data []byte) (*Invoice, error) {
	text, err := document.Text(data, src.contentType)
	if err != nil {
		slog.Error("Failed to render document",
			"filename", src.filename,
			"content_type", src.contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("rendering %s: %w", src.filename, err)
	}

	rec, err := s.extractor.Assemble(text)
	if err != nil {
		attrs := []any{"filename", src.filename, "error", err}
		var parseErr *extraction.InvoiceParseError
		if errors.As(err, &parseErr) {
			attrs = append(attrs, "fields", parseErr.Fields())
		}
		slog.Error("Failed to extract invoice", attrs...)
		return nil, fmt.Errorf("extracting %s: %w", src.filename, err)
	}

	for _, d := range rec.Discrepancies() {
		slog.Warn("Invoice amounts do not add up",
			"invoice_number", rec.InvoiceNumber,
			"field", d.Field,
			"expected", d.Expected.StringFixed(2),
			"actual", d.Actual.StringFixed(2),
		)
	}

	inv := &Invoice{
		Record:         rec,
		SourceFilename: saved,
		ContentType:    document.NormalizeContentType(src.contentType),
		Sender:         src.sender,
		Recipient:      src.recipient,
		Subject:        src.subject,
		CreatedAt:      s.timeSource.Now(),
	}
	if _, err := s.db.SaveInvoice(ctx, inv); err != nil {
		slog.Error("Failed to save invoice", "invoice_number", rec.InvoiceNumber, "filename", src.filename, "error", err)
		return nil, fmt.Errorf("saving invoice %s: %w", rec.InvoiceNumber, err)
	}

	slog.Info("Saved invoice", "id", inv.ID, "invoice_number", inv.InvoiceNumber, "items", len(inv.Items))
	return inv, nil
}

// GetInvoice retrieves an invoice by ID
func (s *Service) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	inv, err := s.db.GetInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	return inv, nil
}

// ListInvoices returns all invoices
func (s *Service) ListInvoices(ctx context.Context) ([]*Invoice, error) {
	invoices, err := s.db.ListInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	return invoices, nil
}

// GetInvoiceFile returns the archived source document of an invoice
func (s *Service) GetInvoiceFile(ctx context.Context, id int64) ([]byte, string, error) {
	inv, err := s.db.GetInvoice(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice: %w", err)
	}

	data, err := s.archive.Get(inv.SourceFilename)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice file: %w", err)
	}
	return data, inv.ContentType, nil
}
