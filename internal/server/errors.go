package server

import "codeberg.org/mutker/solo2d/internal/errors"

const (
	ErrListenFailed   = errors.ErrorCode("server_listen_failed")
	ErrShutdownFailed = errors.ErrorCode("server_shutdown_failed")
)
