package inventory

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by point operations on a missing key.
var ErrNotFound = errors.New("not found")

// StoreError is a persistence failure for one operation.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// WrapStoreError returns nil for a nil err.
func WrapStoreError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Key: key, Err: err}
}

// ProductStore persists ProductRecords keyed by name.
type ProductStore interface {
	// GetProduct returns (record, true, nil) when found and (zero, false, nil) when not.
	GetProduct(ctx context.Context, name string) (ProductRecord, bool, error)
	UpsertProduct(ctx context.Context, p ProductRecord) error
	ListProducts(ctx context.Context) ([]ProductRecord, error)
	// ListUnnotified returns notified=false records in any of the given statuses, ordered by last update.
	ListUnnotified(ctx context.Context, statuses ...Status) ([]ProductRecord, error)
	// MarkNotified sets notified=true only if the record still has the given status.
	// It reports whether a row was changed.
	MarkNotified(ctx context.Context, name string, status Status) (bool, error)
	DeleteProduct(ctx context.Context, name string) error
}

// ChannelStore persists ChannelRecords keyed by group id.
type ChannelStore interface {
	ListChannels(ctx context.Context) ([]ChannelRecord, error)
	UpsertChannel(ctx context.Context, c ChannelRecord) error
	DeleteChannel(ctx context.Context, groupID string) error
}

// Store is the full persistence API.
type Store interface {
	ProductStore
	ChannelStore
	Close() error
}
