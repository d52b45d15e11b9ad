package repositories

import (
	"errors"
	"fmt"
)

// InventoryErrorCode enumerates repository error causes for inventory operations.
type InventoryErrorCode string

const (
	// InventoryErrorUnknown represents an unspecified failure.
	InventoryErrorUnknown InventoryErrorCode = "inventory_unknown"
	// InventoryErrorInsufficientStock indicates a deduction would take sellable stock below zero.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorStockNotFound indicates the product variant has no stock record.
	InventoryErrorStockNotFound InventoryErrorCode = "inventory_stock_not_found"
	// InventoryErrorAllocationExceeded indicates a channel allocation would go negative.
	InventoryErrorAllocationExceeded InventoryErrorCode = "inventory_allocation_exceeded"
	// InventoryErrorInvalidEvent indicates a malformed stock movement.
	InventoryErrorInvalidEvent InventoryErrorCode = "inventory_invalid_event"
)

// InventoryError wraps inventory-specific failures with machine readable codes.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	ProductID string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.ProductID != "" {
		msg = fmt.Sprintf("%s (product %s)", msg, e.ProductID)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsConflict lets services treat stock races like other repository conflicts.
func (e *InventoryError) IsConflict() bool {
	if e == nil {
		return false
	}
	return e.Code == InventoryErrorInsufficientStock || e.Code == InventoryErrorAllocationExceeded
}

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(code InventoryErrorCode, productID, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{
		Code:      code,
		ProductID: productID,
		Message:   message,
		Err:       err,
	}
}

// AsInventoryError unwraps err into an InventoryError, stamping op when missing.
func AsInventoryError(op string, err error) (*InventoryError, bool) {
	var invErr *InventoryError
	if !errors.As(err, &invErr) {
		return nil, false
	}
	if invErr.Op == "" {
		invErr.Op = op
	}
	return invErr, true
}
