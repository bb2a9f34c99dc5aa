package grpcserver

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/DongNguyen06/lib-v2/internal/errs"
)

var codeOf = []struct {
	kind error
	code codes.Code
}{
	{errs.ErrValidation, codes.InvalidArgument},
	{errs.ErrNotFound, codes.NotFound},
	{errs.ErrUnauthorized, codes.Unauthenticated},
	{errs.ErrForbidden, codes.PermissionDenied},
	{errs.ErrDuplicate, codes.AlreadyExists},
	{errs.ErrConflict, codes.FailedPrecondition},
	{errs.ErrInvalidTransition, codes.FailedPrecondition},
	{errs.ErrUnavailable, codes.FailedPrecondition},
	{errs.ErrLimitExceeded, codes.FailedPrecondition},
	{errs.ErrOutstandingFine, codes.FailedPrecondition},
	{errs.ErrRenewalBlocked, codes.FailedPrecondition},
	{errs.ErrPickupExpired, codes.FailedPrecondition},
}

// toStatus maps service errors to gRPC status. Domain errors keep their
// user-facing message; anything else is logged and reported as internal.
func (s *Server) toStatus(op string, err error) error {
	for _, c := range codeOf {
		if errors.Is(err, c.kind) {
			return status.Error(c.code, errs.Message(err))
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	s.log.Error("request failed", zap.String("op", op), zap.Error(err))
	return status.Error(codes.Internal, "internal")
}
