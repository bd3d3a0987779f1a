package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/erain9/darkpool/pkg/core"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var kindCodes = map[core.Kind]codes.Code{
	core.InvalidInput:         codes.InvalidArgument,
	core.StateConflict:        codes.FailedPrecondition,
	core.AuthorizationFailure: codes.PermissionDenied,
	core.MarketUnavailable:    codes.Unavailable,
	core.PricingViolation:     codes.OutOfRange,
	core.NoMatchableQuantity:  codes.FailedPrecondition,
	core.CollaboratorFailure:  codes.Aborted,
	core.NotFound:             codes.NotFound,
	core.AlreadyExists:        codes.AlreadyExists,
}

// CodeOf maps an error kind to a gRPC status code.
func CodeOf(kind core.Kind) codes.Code {
	if code, ok := kindCodes[kind]; ok {
		return code
	}
	return codes.Internal
}

// toStatus converts an engine error to a gRPC status error whose message
// starts with the kind name.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	kind := core.KindOf(err)
	return status.Error(CodeOf(kind), kind.String()+": "+err.Error())
}

// FromStatus recovers a *core.Error from a status error produced by the
// service. Other errors are returned unchanged.
func FromStatus(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return err
	}
	name, detail, found := strings.Cut(st.Message(), ": ")
	if found {
		if kind, ok := core.ParseKind(name); ok {
			return &core.Error{Op: op, Kind: kind, Err: errors.New(detail)}
		}
	}
	return &core.Error{Op: op, Kind: core.CollaboratorFailure, Err: fmt.Errorf("%s: %s", st.Code(), st.Message())}
}
