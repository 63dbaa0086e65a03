package recovery

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		expect Severity
	}{
		{errors.New("429 Too Many Requests"), Transient},
		{errors.New("read tcp: connection reset by peer"), Transient},
		{errors.New("i/o timeout"), Transient},
		{errors.New("503 Service Unavailable"), Transient},
		{errors.New("tls: handshake failure"), Transient},
		{errors.New("project rate limit exceeded"), Transient},
		{errors.New("401 Unauthorized"), Recoverable},
		{errors.New("token has been expired or revoked"), Recoverable},
		{errors.New("invalid_grant"), Recoverable},
		{errors.New("403 Forbidden"), Recoverable},
		{errors.New("something odd happened"), Recoverable},
		{errors.New("network unreachable while refreshing token"), Transient},
		{context.DeadlineExceeded, Transient},
		{context.Canceled, Fatal},
		{fmt.Errorf("dial: %w", syscall.ECONNREFUSED), Transient},
		{NewFatal("load schema", errors.New("timeout in schema")), Fatal},
		{fmt.Errorf("wrapped: %w", NewRecoverable("fetch", errors.New("503"))), Recoverable},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.expect {
			t.Errorf("Classify(%q) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

func TestClassify_NeverFatalByDefault(t *testing.T) {
	for _, msg := range []string{"", "panic: nil map", "invalid configuration", "syntax error"} {
		if got := Classify(errors.New(msg)); got == Fatal {
			t.Errorf("Classify(%q) = Fatal, unknown errors must not be fatal", msg)
		}
	}
}

func TestTag_Nil(t *testing.T) {
	if err := Tag(Fatal, "op", nil); err != nil {
		t.Errorf("Tag(nil) = %v, want nil", err)
	}
}

func TestError_Unwrap(t *testing.T) {
	base := errors.New("boom")
	err := NewTransient("fetch", base)
	if !errors.Is(err, base) {
		t.Error("tagged error should unwrap to its cause")
	}
	if err.Error() != "fetch: boom" {
		t.Errorf("Error() = %q, want %q", err.Error(), "fetch: boom")
	}
}

func TestSeverity_String(t *testing.T) {
	if Transient.String() != "transient" || Recoverable.String() != "recoverable" || Fatal.String() != "fatal" {
		t.Error("unexpected severity names")
	}
}
