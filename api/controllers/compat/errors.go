package compat

import (
	pkgerrors "github.com/angelmondragon/solverpay-backend/pkg/errors"
)

// Error ids understood by anti-captcha style client libraries.
const (
	ErrorNone            = 0
	ErrorMissingParam    = 1
	ErrorInvalidKey      = 2
	ErrorInvalidTaskType = 3
	ErrorZeroBalance     = 10
	ErrorNoSuchTask      = 12
	ErrorUnsolvable      = 21
	ErrorRateLimit       = 22
	ErrorInternal        = 99
)

var errorCodes = map[int]struct{ code, description string }{
	ErrorMissingParam:    {"ERROR_MISSING_PARAM", "required parameter is missing"},
	ErrorInvalidKey:      {"ERROR_KEY_DOES_NOT_EXIST", "api key is invalid"},
	ErrorInvalidTaskType: {"ERROR_INVALID_TASK_TYPE", "task type or parameters are not supported"},
	ErrorZeroBalance:     {"ERROR_ZERO_BALANCE", "account balance is too low"},
	ErrorNoSuchTask:      {"ERROR_NO_SUCH_CAPTCHA_ID", "task not found"},
	ErrorUnsolvable:      {"ERROR_CAPTCHA_UNSOLVABLE", "task could not be solved"},
	ErrorRateLimit:       {"ERROR_RATE_LIMIT", "request rate exceeded"},
	ErrorInternal:        {"ERROR_INTERNAL", "internal error"},
}

// Envelope is the common part of every response on this surface.
type Envelope struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode,omitempty"`
	ErrorDescription string `json:"errorDescription,omitempty"`
}

func errorEnvelope(id int) Envelope {
	entry, ok := errorCodes[id]
	if !ok {
		entry = errorCodes[ErrorInternal]
		id = ErrorInternal
	}
	return Envelope{ErrorID: id, ErrorCode: entry.code, ErrorDescription: entry.description}
}

// errorIDFor maps a typed error to the wire error id. Validation failures map
// to fallback, which differs per endpoint.
func errorIDFor(err error, fallback int) int {
	typed := pkgerrors.As(err)
	if typed == nil {
		return ErrorInternal
	}
	switch typed.Code() {
	case pkgerrors.CodeUnauthorized, pkgerrors.CodeForbidden:
		return ErrorInvalidKey
	case pkgerrors.CodeValidation:
		return fallback
	case pkgerrors.CodeInsufficientBalance:
		return ErrorZeroBalance
	case pkgerrors.CodeNotFound:
		return ErrorNoSuchTask
	case pkgerrors.CodeRateLimit:
		return ErrorRateLimit
	}
	return ErrorInternal
}
