package invoice

import (
	"errors"
	"fmt"
	"time"

	"github.com/zombor/invoice-ingest/internal/extraction"
)

// ErrNotFound is returned when no invoice has the requested ID
var ErrNotFound = errors.New("invoice not found")

// Invoice is an extracted invoice as stored
type Invoice struct {
	ID int64 `json:"id"` // Assigned by the DB on save
	extraction.Record
	SourceFilename string    `json:"source_filename"`
	ContentType    string    `json:"content_type"`
	Sender         string    `json:"sender,omitempty"`
	Recipient      string    `json:"recipient,omitempty"`
	Subject        string    `json:"subject,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// StoreWriteError reports an insert the DB rejected or could not complete
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write failed (%s): %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}
