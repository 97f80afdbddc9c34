package server

import (
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/errs"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorDomain tags ErrorInfo details produced by this service.
const ErrorDomain = "optionescrow"

var kindCodes = map[errs.Kind]codes.Code{
	errs.KindValidation:   codes.InvalidArgument,
	errs.KindConflict:     codes.Aborted,
	errs.KindUnauthorized: codes.PermissionDenied,
	errs.KindNotReady:     codes.FailedPrecondition,
	errs.KindPaused:       codes.Unavailable,
	errs.KindNotFound:     codes.NotFound,
}

// ToStatus maps a registry error onto a gRPC status. The kind and reason
// travel in an ErrorInfo detail.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, core.ErrDuplicate) {
		return status.Error(codes.AlreadyExists, err.Error())
	}

	var e *errs.Error
	if !errors.As(err, &e) {
		return status.Error(codes.Internal, err.Error())
	}
	code, ok := kindCodes[e.Kind]
	if !ok {
		code = codes.Internal
	}
	st := status.New(code, e.Error())
	withInfo, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   string(e.Reason),
		Domain:   ErrorDomain,
		Metadata: map[string]string{"kind": e.Kind.String(), "detail": e.Detail},
	})
	if derr != nil {
		return st.Err()
	}
	return withInfo.Err()
}

// FromStatus recovers the kind and reason carried by a ToStatus error.
// Statuses without an ErrorInfo detail are returned unchanged.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return err
	}
	if st.Code() == codes.AlreadyExists {
		return core.ErrDuplicate
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != ErrorDomain {
			continue
		}
		kind := errs.KindUnknown
		for k, c := range kindCodes {
			if c == st.Code() && k.String() == info.GetMetadata()["kind"] {
				kind = k
			}
		}
		return &errs.Error{Kind: kind, Reason: errs.Reason(info.GetReason()), Detail: info.GetMetadata()["detail"]}
	}
	return err
}
