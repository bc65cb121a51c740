package validation

import (
	"fmt"
	"math"
	"unicode"
	"unicode/utf8"

	"github.com/devrev/pairdb/indexstore/internal/errors"
	"github.com/devrev/pairdb/indexstore/internal/model"
)

const (
	// Size limits
	MaxAttrSize        = 256       // 256 bytes
	MaxStringValueSize = 64 * 1024 // 64 KB
	MaxTxTuples        = 10000
)

var (
	cardinalities = map[string]bool{"": true, "one": true, "many": true}
	uniqueness    = map[string]bool{"": true, "identity": true, "value": true}
)

// Validator checks transactions before they reach the indexes
type Validator struct {
	maxAttrSize        int
	maxStringValueSize int
	maxTxTuples        int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxAttrSize:        MaxAttrSize,
		maxStringValueSize: MaxStringValueSize,
		maxTxTuples:        MaxTxTuples,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxAttrSize, maxStringValueSize, maxTxTuples int) *Validator {
	return &Validator{
		maxAttrSize:        maxAttrSize,
		maxStringValueSize: maxStringValueSize,
		maxTxTuples:        maxTxTuples,
	}
}

// ValidateTransaction validates every tuple of a transaction
func (v *Validator) ValidateTransaction(tx []model.Tuple) error {
	if len(tx) == 0 {
		return errors.InvalidArgument("transaction cannot be empty", nil)
	}
	if len(tx) > v.maxTxTuples {
		return errors.InvalidArgument(
			fmt.Sprintf("transaction has %d tuples, maximum is %d", len(tx), v.maxTxTuples), nil)
	}
	for i, t := range tx {
		if err := v.ValidateTuple(t); err != nil {
			return err.WithDetail("tuple_index", i)
		}
	}
	return nil
}

// ValidateTuple validates one fact
func (v *Validator) ValidateTuple(t model.Tuple) *errors.StorageError {
	if t.E <= 0 {
		return errors.InvalidArgument(fmt.Sprintf("entity id must be positive, got %d", t.E), nil)
	}
	if t.Tx <= 0 {
		return errors.InvalidArgument(fmt.Sprintf("transaction id must be positive, got %d", t.Tx), nil)
	}
	if err := v.ValidateAttr(t.A); err != nil {
		return err
	}
	return v.ValidateValue(t.V)
}

// ValidateAttr validates an attribute name
func (v *Validator) ValidateAttr(attr string) *errors.StorageError {
	if attr == "" {
		return errors.InvalidArgument("attribute cannot be empty", nil)
	}
	if len(attr) > v.maxAttrSize {
		return errors.InvalidArgument(
			fmt.Sprintf("attribute exceeds maximum size of %d bytes", v.maxAttrSize), nil)
	}
	if !utf8.ValidString(attr) {
		return errors.InvalidArgument("attribute must be valid UTF-8", nil)
	}
	for _, r := range attr {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return errors.InvalidArgument("attribute cannot contain whitespace or control characters", nil)
		}
	}
	return nil
}

// ValidateValue validates a value
func (v *Validator) ValidateValue(val model.Value) *errors.StorageError {
	if !val.IsValid() {
		return errors.InvalidArgument("value has no kind", nil)
	}
	switch val.Kind() {
	case model.KindString, model.KindKeyword:
		if len(val.Str()) > v.maxStringValueSize {
			return errors.InvalidArgument(
				fmt.Sprintf("value exceeds maximum size of %d bytes", v.maxStringValueSize), nil)
		}
		if !utf8.ValidString(val.Str()) {
			return errors.InvalidArgument("string value must be valid UTF-8", nil)
		}
	case model.KindFloat:
		// NaN has no place in a total order; JSON has no literal for either.
		if math.IsNaN(val.Float()) {
			return errors.InvalidArgument("float value cannot be NaN", nil)
		}
		if math.IsInf(val.Float(), 0) {
			return errors.InvalidArgument("float value must be finite", nil)
		}
	}
	return nil
}

// ValidateSchema validates attribute specs
func (v *Validator) ValidateSchema(schema model.Schema) error {
	for attr, spec := range schema {
		if err := v.ValidateAttr(attr); err != nil {
			return err
		}
		if !cardinalities[spec.Cardinality] {
			return errors.InvalidArgument(
				fmt.Sprintf("attribute %s has unknown cardinality %q", attr, spec.Cardinality), nil)
		}
		if !uniqueness[spec.Unique] {
			return errors.InvalidArgument(
				fmt.Sprintf("attribute %s has unknown uniqueness %q", attr, spec.Unique), nil)
		}
	}
	return nil
}
