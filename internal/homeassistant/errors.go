package homeassistant

import "codeberg.org/mutker/solo2d/internal/errors"

const (
	ErrConnectFailed  = errors.ErrorCode("homeassistant_connect_failed")
	ErrPublishFailed  = errors.ErrorCode("homeassistant_publish_failed")
	ErrPublishTimeout = errors.ErrorCode("homeassistant_publish_timeout")
)
