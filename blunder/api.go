// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package blunder provides error-handling wrappers
//
// These wrappers allow callers to attach a scrubber error code (an errno
// value) to an error while keeping the stack location of where it was
// generated. The errno is carried as a merry value so it survives wrapping.
package blunder

import (
	"fmt"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/csumscrub/logger"
)

type ScrubError int

// The errno values attached to scrubber errors.
//
// NOTE: Is() compares errno values, so codes that share an errno cannot be
//       told apart by it.
//
const (
	ContainerStoppingError ScrubError = ScrubError(int(unix.ESHUTDOWN))    // Container is being stopped/destroyed
	NotFoundError          ScrubError = ScrubError(int(unix.ENOENT))       // No such pool, target, or container
	InvalidConfigError     ScrubError = ScrubError(int(unix.EINVAL))       // Malformed configuration value
	AlreadyStartedError    ScrubError = ScrubError(int(unix.EALREADY))     // Scrubber already running for target
	ChannelDeliveryError   ScrubError = ScrubError(int(unix.EHOSTUNREACH)) // Corruption message could not be delivered
	CorruptMessageError    ScrubError = ScrubError(int(unix.EBADMSG))      // Received message failed validation
	NotLeaderError         ScrubError = ScrubError(int(unix.EREMOTE))      // Operation must run on the pool leader
	TryAgainError          ScrubError = ScrubError(int(unix.EAGAIN))       // Transient failure
	IOError                ScrubError = ScrubError(int(unix.EIO))          // Storage scan failure
	CanceledError          ScrubError = ScrubError(int(unix.ECANCELED))    // Operation aborted by shutdown
)

const SuccessError ScrubError = 0

const successErrno = 0
const failureErrno = -1

func (err ScrubError) Value() int {
	return int(err)
}

func (err ScrubError) String() string {
	switch err {
	case SuccessError:
		return "SuccessError"
	case ContainerStoppingError:
		return "ContainerStoppingError"
	case NotFoundError:
		return "NotFoundError"
	case InvalidConfigError:
		return "InvalidConfigError"
	case AlreadyStartedError:
		return "AlreadyStartedError"
	case ChannelDeliveryError:
		return "ChannelDeliveryError"
	case CorruptMessageError:
		return "CorruptMessageError"
	case NotLeaderError:
		return "NotLeaderError"
	case TryAgainError:
		return "TryAgainError"
	case IOError:
		return "IOError"
	case CanceledError:
		return "CanceledError"
	default:
		return fmt.Sprintf("ScrubError(%d)", int(err))
	}
}

// NewError creates a new merry error with the errno of errValue attached.
func NewError(errValue ScrubError, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue("errno", int(errValue))
}

// AddError attaches errValue to e, replacing any errno already present.
func AddError(e error, errValue ScrubError) error {
	if nil == e {
		return merry.New("regular error").WithValue("errno", int(errValue))
	}

	prevValue := Errno(e)
	if (successErrno != prevValue) && (failureErrno != prevValue) && (int(errValue) != prevValue) {
		logger.Warnf("replacing error value %v with value %v for error %v", prevValue, int(errValue), e)
	}

	return merry.WrapSkipping(e, 1).WithValue("errno", int(errValue))
}

// AddHTTPCode attaches an HTTP status code to e for the status endpoints.
func AddHTTPCode(e error, statusCode int) error {
	if nil == e {
		return merry.New("HTTP error").WithHTTPCode(statusCode)
	}

	return merry.WrapSkipping(e, 1).WithHTTPCode(statusCode)
}

// Errno returns the errno attached to e, 0 for nil, or -1 if none is set.
func Errno(e error) int {
	if nil == e {
		return successErrno
	}

	errno := failureErrno
	tmp := merry.Value(e, "errno")
	if nil != tmp {
		errno = tmp.(int)
	}

	return errno
}

func ErrorString(e error) string {
	if nil == e {
		return ""
	}

	errPlusVal := e.Error()

	tmp := merry.Value(e, "errno")
	if nil != tmp {
		errPlusVal = fmt.Sprintf("%s. Error Value: %v", errPlusVal, tmp.(int))
	}

	return errPlusVal
}

// Is reports whether e carries theError's errno.
func Is(e error, theError ScrubError) bool {
	return Errno(e) == theError.Value()
}

func IsNot(e error, theError ScrubError) bool {
	return Errno(e) != theError.Value()
}

func IsSuccess(e error) bool {
	return Errno(e) == successErrno
}

// HTTPCode wraps merry.HTTPCode, which returns the HTTP status code. Default value is 500.
func HTTPCode(e error) int {
	return merry.HTTPCode(e)
}

// Location returns the file and line number of the code that generated the error.
func Location(e error) (file string, line int) {
	file, line = merry.Location(e)
	return
}

func SourceLine(e error) string {
	return merry.SourceLine(e)
}

// Details wraps merry.Details, which returns all error details including stacktrace in a string.
func Details(e error) string {
	return merry.Details(e)
}
