package invoice

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zombor/invoice-ingest/internal/document"
	"github.com/zombor/invoice-ingest/internal/extraction"
)

const maxUploadSize = int64(20 << 20)

func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

type errorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

// processingStatus maps a processing error to a status code and body
func processingStatus(err error) (int, errorResponse) {
	var (
		parseErr *extraction.InvoiceParseError
		storeErr *StoreWriteError
	)
	switch {
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Fields: parseErr.Fields()}
	case errors.Is(err, document.ErrUnsupportedContentType):
		return http.StatusUnsupportedMediaType, errorResponse{Error: err.Error()}
	case errors.As(err, &storeErr):
		return http.StatusInternalServerError, errorResponse{Error: "Error saving invoice"}
	default:
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid invoice id %q", r.PathValue("id"))
	}
	return id, nil
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.service.ListInvoices(r.Context())
	if err != nil {
		slog.Error("Error listing invoices", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if invoices == nil {
		invoices = []*Invoice{}
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (s *Server) handleUploadInvoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Error parsing form"})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No file provided"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		setCORSHeaders(w)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Error reading file"})
		return
	}

	// Multipart writers default to octet-stream, so the extension is more useful.
	contentType := document.NormalizeContentType(header.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = document.ContentTypeFromFilename(header.Filename)
	}

	var inv *Invoice
	if contentType == "message/rfc822" {
		inv, err = s.service.ProcessEmail(r.Context(), data, nil)
	} else {
		inv, err = s.service.ProcessDocument(r.Context(), header.Filename, data, contentType)
	}
	if err != nil {
		slog.Error("Error processing invoice", "filename", header.Filename, "error", err)
		code, body := processingStatus(err)
		setCORSHeaders(w)
		writeJSON(w, code, body)
		return
	}

	writeJSON(w, http.StatusCreated, inv)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		corsError(w, err.Error(), http.StatusBadRequest)
		return
	}
	inv, err := s.service.GetInvoice(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		corsError(w, "Invoice not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error getting invoice", "id", id, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleGetInvoiceFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		corsError(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, contentType, err := s.service.GetInvoiceFile(r.Context(), id)
	if errors.Is(err, ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error getting invoice file", "id", id, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="invoices.xlsx"`)
	if err := s.service.ExportXLSX(r.Context(), w); err != nil {
		slog.Error("Error exporting invoices", "error", err)
		w.Header().Del("Content-Disposition")
		corsError(w, "Internal server error", http.StatusInternalServerError)
	}
}
