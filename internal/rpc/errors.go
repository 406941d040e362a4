package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/store"
)

var codeOf = []struct {
	err  error
	code codes.Code
}{
	{store.ErrValidation, codes.InvalidArgument},
	{store.ErrNotFound, codes.NotFound},
	{store.ErrConflict, codes.Aborted},
	{store.ErrInvalidState, codes.FailedPrecondition},
	{context.Canceled, codes.Canceled},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
}

// ToStatus converts a store error into a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, m := range codeOf {
		if errors.Is(err, m.err) {
			return status.Error(m.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// FromStatus converts a gRPC status error back into an error wrapping the
// matching store sentinel. Other codes are returned unchanged.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, m := range codeOf {
		if st.Code() != m.code {
			continue
		}
		// The message usually starts with the sentinel text already.
		msg := st.Message()
		if rest, found := strings.CutPrefix(msg, m.err.Error()); found {
			return fmt.Errorf("%w%s", m.err, rest)
		}
		return fmt.Errorf("%w: %s", m.err, msg)
	}
	return err
}
