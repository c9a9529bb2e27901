package rpc

import (
	"context"
	"errors"
	"strings"

	"connectrpc.com/connect"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
)

// ErrorCodeHeader carries the GM-* code of a domain error.
const ErrorCodeHeader = "Graphmesh-Error-Code"

// knownErrors are the sentinels restored on the client side.
var knownErrors = []*domain.DomainError{
	domain.ErrNotReady,
	domain.ErrSnapshotUninitialized,
	domain.ErrOverloaded,
	domain.ErrStaleSnapshotDependency,
	domain.ErrDurabilityFailure,
	domain.ErrUnknownShard,
	domain.ErrDeliveryAborted,
	domain.ErrStoreBusy,
	domain.ErrNotLeader,
	domain.ErrStoreUnavailable,
	domain.ErrUnknownPartition,
	domain.ErrInvalidBatch,
	domain.ErrInternal,
}

// connectCode maps an error onto a connect status code.
func connectCode(err error) connect.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	case errors.Is(err, domain.ErrNotReady),
		errors.Is(err, domain.ErrSnapshotUninitialized),
		errors.Is(err, domain.ErrNotLeader),
		errors.Is(err, domain.ErrStoreUnavailable):
		return connect.CodeUnavailable
	case errors.Is(err, domain.ErrOverloaded), errors.Is(err, domain.ErrStoreBusy):
		return connect.CodeResourceExhausted
	case errors.Is(err, domain.ErrStaleSnapshotDependency):
		return connect.CodeFailedPrecondition
	case errors.Is(err, domain.ErrUnknownShard), errors.Is(err, domain.ErrUnknownPartition):
		return connect.CodeNotFound
	case errors.Is(err, domain.ErrInvalidBatch):
		return connect.CodeInvalidArgument
	case errors.Is(err, domain.ErrDeliveryAborted):
		return connect.CodeAborted
	default:
		return connect.CodeInternal
	}
}

// toConnectError converts a handler error for the wire.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return err
	}
	cerr = connect.NewError(connectCode(err), err)
	if code := domain.GetErrorCode(err); code != "" {
		cerr.Meta().Set(ErrorCodeHeader, code)
	}
	return cerr
}

// fromConnectError restores a domain error from a client-side error.
func fromConnectError(err error) error {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return err
	}
	code := cerr.Meta().Get(ErrorCodeHeader)
	for _, known := range knownErrors {
		if known.Code == code {
			return known.WithDetails(remoteDetails(known, cerr.Message())).WithCause(err)
		}
	}
	switch cerr.Code() {
	case connect.CodeCanceled:
		return errors.Join(context.Canceled, err)
	case connect.CodeDeadlineExceeded:
		return errors.Join(context.DeadlineExceeded, err)
	}
	return err
}

// remoteDetails strips the "[code] message" prefix the server already
// rendered so it is not repeated.
func remoteDetails(known *domain.DomainError, msg string) string {
	prefix := "[" + known.Code + "] " + known.Message
	if !strings.HasPrefix(msg, prefix) {
		return msg
	}
	return strings.TrimPrefix(strings.TrimPrefix(msg, prefix), ": ")
}

// codeLabel is the metric label of an outcome.
func codeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := domain.GetErrorCode(err); code != "" {
		return code
	}
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr.Code().String()
	}
	return connectCode(err).String()
}
