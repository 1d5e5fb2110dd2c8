package api

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/wppsync/internal/channel"
	"github.com/matheus3301/wppsync/internal/history"
	"github.com/matheus3301/wppsync/internal/outbox"
)

// toStatus maps a domain error onto a gRPC status.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	return statusOf(err).Err()
}

// sendFailure is toStatus with the failed send's view attached as a detail.
func sendFailure(out outbox.Outcome, err error) error {
	st := statusOf(err)
	detail, derr := ToStruct(SendView{LocalID: out.LocalID, Failure: string(out.Failure)})
	if derr != nil {
		return st.Err()
	}
	if withDetail, derr := st.WithDetails(detail); derr == nil {
		st = withDetail
	}
	return st.Err()
}

// SendFailure extracts the view attached to a failed SendText. ok is false
// for errors that carry none.
func SendFailure(err error) (v SendView, ok bool) {
	st, isStatus := grpcstatus.FromError(err)
	if !isStatus {
		return v, false
	}
	for _, d := range st.Details() {
		s, isStruct := d.(*structpb.Struct)
		if !isStruct {
			continue
		}
		if FromStruct(s, &v) == nil && v.LocalID != "" {
			return v, true
		}
	}
	return SendView{}, false
}

func statusOf(err error) *grpcstatus.Status {
	var (
		apiErr  *history.APIError
		netErr  *history.NetworkError
		authErr *channel.AuthError
	)
	code := codes.Internal
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, channel.ErrMissingCredential), errors.Is(err, outbox.ErrMissingSessionID):
		code = codes.FailedPrecondition
	case errors.Is(err, history.ErrInvalidPage):
		code = codes.InvalidArgument
	case errors.As(err, &authErr):
		code = codes.Unauthenticated
	case errors.Is(err, channel.ErrNotConnected), errors.As(err, &netErr):
		code = codes.Unavailable
	case errors.Is(err, history.ErrNoResponse):
		code = codes.Unknown
	case errors.As(err, &apiErr):
		switch apiErr.StatusCode {
		case http.StatusUnauthorized:
			code = codes.Unauthenticated
		case http.StatusForbidden:
			code = codes.PermissionDenied
		case http.StatusNotFound:
			code = codes.NotFound
		}
	}
	return grpcstatus.New(code, err.Error())
}
