package registration

import (
	"fmt"

	"github.com/pkg/errors"
)

// A DegenerateInputError is returned when an instance has nothing to register: an empty mask or
// point set, a zero sized box, or a zero denominator in the reward or penalty ratio.
type DegenerateInputError struct {
	InstanceID int32
	Reason     string
}

func (e *DegenerateInputError) Error() string {
	return fmt.Sprintf("degenerate input for instance %d: %s", e.InstanceID, e.Reason)
}

// NewDegenerateInputError returns a DegenerateInputError.
func NewDegenerateInputError(instanceID int32, format string, args ...interface{}) error {
	return &DegenerateInputError{InstanceID: instanceID, Reason: fmt.Sprintf(format, args...)}
}

// A GridMismatchError is returned when the target and no-entry grids of an instance do not share
// pitch, origin and dims.
type GridMismatchError struct {
	InstanceID int32
	Field      string
}

func (e *GridMismatchError) Error() string {
	return fmt.Sprintf("target and no-entry grids of instance %d differ in %s", e.InstanceID, e.Field)
}

// A NumericDivergenceError is returned when the loss or the parameters of an instance stop being
// finite.
type NumericDivergenceError struct {
	InstanceID int32
	Iteration  int
}

func (e *NumericDivergenceError) Error() string {
	return fmt.Sprintf("instance %d diverged at iteration %d", e.InstanceID, e.Iteration)
}

// IsDegenerateInput reports whether err is or wraps a DegenerateInputError.
func IsDegenerateInput(err error) bool {
	var target *DegenerateInputError
	return errors.As(err, &target)
}

// IsGridMismatch reports whether err is or wraps a GridMismatchError.
func IsGridMismatch(err error) bool {
	var target *GridMismatchError
	return errors.As(err, &target)
}

// IsNumericDivergence reports whether err is or wraps a NumericDivergenceError.
func IsNumericDivergence(err error) bool {
	var target *NumericDivergenceError
	return errors.As(err, &target)
}
