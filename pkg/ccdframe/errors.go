package ccdframe

import "errors"

// Error categories. Concrete errors wrap one of these so callers can
// classify with errors.Is without matching message text.
var (
	// ErrConfig marks construction-time configuration problems: a missing
	// unit, both header and meta supplied, metadata of the wrong kind.
	ErrConfig = errors.New("invalid frame configuration")

	// ErrShapeMismatch marks a mask or raw uncertainty array whose shape
	// disagrees with the data array.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrType marks a value of an unsupported type: an uncertainty that is
	// neither canonical nor a raw array, or an arithmetic operand outside
	// the closed operand set.
	ErrType = errors.New("unsupported type")

	// ErrUnsupported marks features the serialization bridge deliberately
	// does not implement: flags on read or write, non-canonical or
	// mixed-unit uncertainties on write.
	ErrUnsupported = errors.New("unsupported feature")

	// ErrCapability marks a coordinate policy that would need
	// reconciliation support the array arithmetic layer does not provide.
	ErrCapability = errors.New("capability not available")
)
