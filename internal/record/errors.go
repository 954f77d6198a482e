package record

import "codeberg.org/mutker/solo2d/internal/errors"

const (
	ErrMalformedSlot     = errors.ErrorCode("record_malformed_slot")
	ErrUninitializedSlot = errors.ErrorCode("record_uninitialized_slot")
)
