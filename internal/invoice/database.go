package invoice

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "invoices"

// DB defines the append-only invoice store. Implementations serialize
// concurrent writes.
type DB interface {
	// SaveInvoice inserts an invoice, sets its ID and returns it
	SaveInvoice(ctx context.Context, inv *Invoice) (int64, error)

	// GetInvoice retrieves an invoice by ID
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)

	// ListInvoices returns all invoices ordered by ID
	ListInvoices(ctx context.Context) ([]*Invoice, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Keys are the big-endian
// bucket sequence so iteration order is insertion order.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens or creates a BoltDB file
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

// SaveInvoice saves an invoice under the next bucket sequence
func (b *BoltDB) SaveInvoice(_ context.Context, inv *Invoice) (int64, error) {
	var id int64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating id: %w", err)
		}
		id = int64(seq)

		stored := *inv
		stored.ID = id
		data, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("marshaling invoice: %w", err)
		}
		return bucket.Put(itob(id), data)
	})
	if err != nil {
		return 0, &StoreWriteError{Op: "insert invoice", Err: err}
	}

	inv.ID = id
	return id, nil
}

// GetInvoice retrieves an invoice by ID
func (b *BoltDB) GetInvoice(_ context.Context, id int64) (*Invoice, error) {
	var inv *Invoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get(itob(id))
		if data == nil {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return json.Unmarshal(data, &inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvoices returns all invoices ordered by ID
func (b *BoltDB) ListInvoices(_ context.Context) ([]*Invoice, error) {
	invoices := make([]*Invoice, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			var inv Invoice
			if err := json.Unmarshal(v, &inv); err != nil {
				return fmt.Errorf("unmarshaling invoice %d: %w", binary.BigEndian.Uint64(k), err)
			}
			invoices = append(invoices, &inv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
