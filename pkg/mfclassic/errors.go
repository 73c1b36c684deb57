package mfclassic

import (
	"errors"
	"fmt"
)

// Status word constants for PC/SC pseudo-APDU responses
const (
	SWSuccess              = 0x9000 // Success
	SWOperationFailed      = 0x6300 // Authentication or operation failed
	SWWrongLength          = 0x6700 // Wrong length
	SWSecurityNotSatisfied = 0x6982 // Sector not authenticated
	SWCommandNotAllowed    = 0x6986 // Command not allowed (e.g. no key in slot)
	SWNotSupported         = 0x6A81 // Function not supported
	SWWrongP1P2            = 0x6A86 // Incorrect P1/P2 parameters
)

// SWError represents a status word error from the reader.
type SWError struct {
	Cmd byte   // Command INS byte
	SW  uint16 // Status word
}

func (e *SWError) Error() string {
	return fmt.Sprintf("reader command 0x%02X failed with SW=0x%04X (%s)", e.Cmd, e.SW, swDescription(e.SW))
}

func swDescription(sw uint16) string {
	switch sw {
	case SWSuccess:
		return "success"
	case SWOperationFailed:
		return "operation failed"
	case SWWrongLength:
		return "wrong length"
	case SWSecurityNotSatisfied:
		return "security not satisfied"
	case SWCommandNotAllowed:
		return "command not allowed"
	case SWNotSupported:
		return "function not supported"
	case SWWrongP1P2:
		return "wrong P1/P2"
	default:
		return "unknown error"
	}
}

// SwOK checks if a status word indicates success.
func SwOK(sw uint16) bool {
	return sw == SWSuccess
}

// TimeoutError reports that a device did not answer within the caller's deadline.
type TimeoutError struct {
	Op    string // Operation that timed out
	Cause error  // Usually context.DeadlineExceeded
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return "timeout"
	}
	return fmt.Sprintf("%s: device timeout", e.Op)
}

func (e *TimeoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Timeout implements the net.Error style timeout check.
func (e *TimeoutError) Timeout() bool { return true }

// DeviceError carries a non-zero status reported by the device itself.
// Code is passed through unchanged from the device response.
type DeviceError struct {
	Op   string
	Code int
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: device reported status %d", e.Op, e.Code)
}

// FormatError reports malformed persisted content.
type FormatError struct {
	Line   int // 1-based line number, 0 when not line oriented
	Reason string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("file content error at line %d: %s", e.Line, e.Reason)
	}
	return "file content error: " + e.Reason
}

// IsTimeout checks if an error is a device timeout.
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// IsDeviceError checks if an error carries a device status and returns it.
func IsDeviceError(err error) (int, bool) {
	var d *DeviceError
	if errors.As(err, &d) {
		return d.Code, true
	}
	return 0, false
}

// IsFormatError checks if an error is a persisted-content format error.
func IsFormatError(err error) bool {
	var f *FormatError
	return errors.As(err, &f)
}

// IsAuthFailed checks if an error is a failed authentication status word.
func IsAuthFailed(err error) bool {
	var swErr *SWError
	if errors.As(err, &swErr) {
		return swErr.SW == SWOperationFailed || swErr.SW == SWSecurityNotSatisfied
	}
	return false
}
