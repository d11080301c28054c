package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrOrderNotFound         = fmt.Errorf("order %w", ErrNotFound)
	ErrShipmentNotFound      = fmt.Errorf("shipment %w", ErrNotFound)
	ErrLabelAlreadyPurchased = errors.New("label already purchased for order")
)

// ValidationError carries field-level detail for 4xx responses.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
