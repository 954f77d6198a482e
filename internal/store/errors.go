package store

import "codeberg.org/mutker/solo2d/internal/errors"

const (
	// Medium Errors
	ErrMediumUnavailable = errors.ErrorCode("store_medium_unavailable")
	ErrMountFailed       = errors.ErrorCode("store_mount_failed")
	ErrUnmountFailed     = errors.ErrorCode("store_unmount_failed")
	ErrMapFailed         = errors.ErrorCode("store_map_failed")
	ErrRegionTooSmall    = errors.ErrorCode("store_region_too_small")

	// State Errors
	ErrStoreClosed = errors.ErrorCode("store_closed")
	ErrStoreOpen   = errors.ErrorCode("store_already_open")

	// Content Errors
	ErrUninitializedStore = errors.ErrorCode("store_uninitialized")
)
