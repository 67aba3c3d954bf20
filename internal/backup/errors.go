package backup

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"backupd/internal/reactor"
	"backupd/internal/store"
)

var (
	// ErrProtocol reports a missing or out-of-order request field.
	ErrProtocol = errors.New("protocol error")
	// ErrNotFound reports a referenced backup or log that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUpstream reports a database or blob service failure.
	ErrUpstream = errors.New("upstream failure")
	// ErrInternal reports a broken invariant.
	ErrInternal = errors.New("internal error")
)

// lookupErr classifies a failed store read of the named record.
func lookupErr(err error, what string) error {
	if store.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return upstreamErr(err)
}

// upstreamErr wraps a store or blob failure, keeping its message. Lost
// conditional writes stay conflicts.
func upstreamErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConflict), errors.Is(err, ErrUpstream):
		return err
	case store.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

// StatusError converts a pipeline error to a gRPC status error.
func StatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch {
	case errors.Is(err, ErrProtocol):
		code = codes.InvalidArgument
	case errors.Is(err, ErrNotFound), store.IsNotFound(err):
		code = codes.NotFound
	case errors.Is(err, store.ErrConflict):
		code = codes.Aborted
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, ErrUpstream), errors.Is(err, reactor.ErrRead), errors.Is(err, reactor.ErrWrite):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
