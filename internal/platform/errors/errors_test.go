package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIs(t *testing.T) {
	err := New(CodeGrantInvalid, "grant is invalid")
	if !stderrors.Is(err, New(CodeGrantInvalid, "other message")) {
		t.Error("expected errors with the same code to match")
	}
	if stderrors.Is(err, New(CodeGrantExpired, "grant is invalid")) {
		t.Error("expected errors with different codes not to match")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodeStorage, "refresh token insert failed", cause)
	if !stderrors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}
	if err.Error() != "refresh token insert failed" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, CodeUnknown},
		{"plain error", stderrors.New("boom"), CodeUnknown},
		{"domain error", New(CodeTokenExpired, "expired"), CodeTokenExpired},
		{"wrapped domain error", fmt.Errorf("verify: %w", New(CodeTokenBadSignature, "bad sig")), CodeTokenBadSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeInvalidRequest, codes.InvalidArgument},
		{CodeGrantInvalid, codes.Unauthenticated},
		{CodeTokenExpired, codes.Unauthenticated},
		{CodeAccessDenied, codes.PermissionDenied},
		{CodeApplicationNotFound, codes.NotFound},
		{CodeApplicationInactive, codes.FailedPrecondition},
		{CodeStorage, codes.Internal},
		{Code("BOGUS"), codes.Unknown},
	}
	for _, tt := range tests {
		if got := tt.code.GRPCCode(); got != tt.want {
			t.Errorf("%s.GRPCCode() = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestToGRPCStatus(t *testing.T) {
	err := WithMetadata(CodeGrantReused, "refresh token reused past grace", map[string]string{"SessionID": "sess-1"})
	st, ok := status.FromError(err.ToGRPCStatus())
	if !ok {
		t.Fatal("expected a gRPC status error")
	}
	if st.Code() != codes.Unauthenticated {
		t.Errorf("status code = %v, want Unauthenticated", st.Code())
	}
	if st.Message() != "refresh token reused past grace" {
		t.Errorf("status message = %q", st.Message())
	}
	if len(st.Details()) != 1 {
		t.Fatalf("expected 1 detail, got %d", len(st.Details()))
	}
}
