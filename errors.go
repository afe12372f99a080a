package lexiread

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error codes
//
//	1: invalid request, rejected before any I/O
//	2: server reported an error (Status holds the HTTP status)
//	3: transport failure, no response received
//	4: response body could not be decoded
//	5: operation needs a logged in session
//	6: reset password attempted without a verified OTP
//	7: reset token expired locally
//	8: a chat send is already in flight
//	9: invalid configuration
const (
	CodeInvalidRequest = iota + 1
	CodeServer
	CodeTransport
	CodeDecode
	CodeUnauthenticated
	CodeNoResetToken
	CodeResetTokenExpired
	CodeSendInFlight
	CodeConfig
)

type Error struct {
	Code    int
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("lexiread error: code=%d, status=%d, message=%s", e.Code, e.Status, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("lexiread error: code=%d, message=%s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("lexiread error: code=%d, message=%s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

func wrapError(code int, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsCode reports whether err, or anything it wraps, is an *Error with the
// given code.
func IsCode(err error, code int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// ErrorCode returns the code of the first *Error in err's chain, or 0.
func ErrorCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
