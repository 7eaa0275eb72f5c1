package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"testing"
)

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(CodeTimeout, context.DeadlineExceeded, "模型推理超时")
	if !stdErrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline exceeded, got %v", err)
	}
	if CodeOf(err) != CodeTimeout {
		t.Fatalf("unexpected code %s", CodeOf(err))
	}
	if !RetryableError(err) {
		t.Fatalf("timeout should be retryable by default")
	}
}

func TestCodeMatchingThroughFmtWrap(t *testing.T) {
	inner := New(CodeGone, "")
	outer := fmt.Errorf("lookup: %w", inner)

	if !stdErrors.Is(outer, New(CodeGone, "other message")) {
		t.Fatalf("expected errors.Is to match on code")
	}
	if got := CodeOf(outer); got != CodeGone {
		t.Fatalf("unexpected code %s", got)
	}
	if inner.Message() != DefaultMessage(CodeGone) {
		t.Fatalf("expected default message, got %q", inner.Message())
	}
}

func TestOptionsOverrideAttributes(t *testing.T) {
	err := New(CodeUpstreamFailure, "boom",
		WithRetryable(false),
		WithSeverity(SeverityCritical),
		WithMetadata("status", "502"),
	)
	if err.Retryable() {
		t.Fatalf("expected retryable override")
	}
	if SeverityOf(err) != SeverityCritical {
		t.Fatalf("unexpected severity %s", SeverityOf(err))
	}
	if err.Metadata()["status"] != "502" {
		t.Fatalf("metadata missing: %+v", err.Metadata())
	}
}

func TestUnknownCodeFallsBack(t *testing.T) {
	if got := DefaultMessage(Code("NOPE")); got != DefaultMessage(CodeUnknown) {
		t.Fatalf("expected fallback message, got %q", got)
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors should map to UNKNOWN")
	}
	if LogLevel(stdErrors.New("plain")) != slog.LevelError {
		t.Fatalf("plain errors should log at error level")
	}
}

func TestOverridesPropagateThroughWrap(t *testing.T) {
	inner := New(CodeUpstreamStatus, "status 401",
		WithRetryable(false),
		WithSeverity(SeverityCritical),
		WithMetadata("status", "401"),
	)
	outer := Wrap(CodeModelFailure, inner, "", WithMetadata("provider", "openai"))

	if outer.Retryable() {
		t.Fatalf("inner retryable override should win over MODEL_FAILURE default")
	}
	if SeverityOf(outer) != SeverityCritical {
		t.Fatalf("unexpected severity %s", SeverityOf(outer))
	}
	meta := outer.Metadata()
	if meta["status"] != "401" || meta["provider"] != "openai" {
		t.Fatalf("metadata not merged: %+v", meta)
	}

	shadow := Wrap(CodeModelFailure, inner, "", WithMetadata("status", "outer"))
	if got := shadow.Metadata()["status"]; got != "outer" {
		t.Fatalf("outer metadata should shadow inner, got %q", got)
	}
}

func TestLogLevelFollowsSeverity(t *testing.T) {
	cases := []struct {
		err  error
		want slog.Level
	}{
		{New(CodeInvalidArgument, ""), slog.LevelInfo},
		{New(CodeUpstreamFailure, ""), slog.LevelWarn},
		{New(CodeInitializationFailure, ""), slog.LevelError},
		{fmt.Errorf("chat: %w", New(CodeNotFound, "")), slog.LevelInfo},
		{New(CodeNotFound, "", WithSeverity(SeverityCritical)), slog.LevelError},
	}
	for _, tc := range cases {
		if got := LogLevel(tc.err); got != tc.want {
			t.Fatalf("LogLevel(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
