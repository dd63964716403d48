package domain

import (
	"errors"
	"fmt"
)

// Repository-level facts. Stores return these; services translate them.
var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a unique key is already taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict indicates a conditional write did not match.
	ErrConflict = errors.New("conflict")
)

// Errors surfaced by the services.
var (
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductNotFound   = errors.New("product not found")
	ErrItemNotFound      = errors.New("cart item not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrUnauthenticated   = errors.New("user not authenticated")
	ErrInvalidProduct    = errors.New("invalid product")
	ErrSync              = errors.New("sync error")
	ErrStorage           = errors.New("storage failure")
)

// InsufficientStockError names the product that could not cover a request.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// SyncError wraps a failure talking to the remote catalog.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Op, e.Err)
}

func (e *SyncError) Is(target error) bool {
	return target == ErrSync
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// StorageError wraps a failure raised by the durable store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Storage wraps err as a StorageError unless it already belongs to the
// service error set.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsServiceError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsServiceError reports whether err is already one of the service errors.
func IsServiceError(err error) bool {
	for _, target := range []error{
		ErrInvalidQuantity,
		ErrInsufficientStock,
		ErrProductNotFound,
		ErrItemNotFound,
		ErrOrderNotFound,
		ErrEmptyCart,
		ErrUnauthenticated,
		ErrInvalidProduct,
		ErrSync,
		ErrStorage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
