// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

// Package errdef defines the error kinds shared across the engine. Callers
// classify failures with Kind and wrap causes with the cockroachdb errors
// package so stack information is preserved.
package errdef

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrorKind identifies the failure class of an operation.
type ErrorKind int32

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindInvalidArgument
	KindConflict
	KindCorrupted
	KindIO
	KindCanceled
)

var (
	// ErrNotFound marks a missing shard, index or segment.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument marks a bad dimension, malformed query or filter.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict marks two writers over one segment directory or two
	// workers holding one job past lease expiry.
	ErrConflict = errors.New("conflict")
	// ErrCorrupted marks a checksum or format mismatch on segment open.
	ErrCorrupted = errors.New("corrupted segment")
	// ErrIO marks a transient storage or network failure.
	ErrIO = errors.New("io failure")
	// ErrCanceled marks a request cancellation.
	ErrCanceled = errors.New("canceled")
)

// NotFound returns a NotFound failure carrying the formatted message.
func NotFound(format string, args ...any) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

// InvalidArgument returns an InvalidArgument failure carrying the formatted
// message.
func InvalidArgument(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

// Conflict returns a Conflict failure carrying the formatted message.
func Conflict(format string, args ...any) error {
	return errors.Wrapf(ErrConflict, format, args...)
}

// Corrupted wraps err as a Corrupted failure. A nil err still produces a
// Corrupted error.
func Corrupted(err error, format string, args ...any) error {
	if err == nil {
		return errors.Wrapf(ErrCorrupted, format, args...)
	}
	return errors.Wrapf(errors.Mark(err, ErrCorrupted), format, args...)
}

// IO wraps err as a transient IO failure.
func IO(err error, format string, args ...any) error {
	if err == nil {
		return errors.Wrapf(ErrIO, format, args...)
	}
	return errors.Wrapf(errors.Mark(err, ErrIO), format, args...)
}

// Kind classifies err into one of the error kinds. Context cancellation is
// reported as KindCanceled regardless of wrapping.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, context.Canceled) || errors.Is(err, ErrCanceled):
		return KindCanceled
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrCorrupted):
		return KindCorrupted
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindInternal
	}
}

// Retryable reports whether a failure of this kind may succeed on retry.
func Retryable(err error) bool {
	k := Kind(err)
	return k == KindIO || k == KindConflict
}
