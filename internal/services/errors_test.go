package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"derbyflow/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "human_detection", "decode", "ffmpeg failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"human_detection", "decode", "ffmpeg failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.ErrorKind
	}{
		{"nil", nil, services.KindUnknown},
		{"plain", errors.New("x"), services.KindUnknown},
		{"config", services.Wrap(services.ErrConfiguration, "", "load", "bad", nil), services.KindConfiguration},
		{"not found", fmt.Errorf("get: %w", services.ErrNotFound), services.KindNotFound},
		{"conflict", services.Wrap(services.ErrConflict, "detect", "put", "", nil), services.KindConflict},
		{"transient", services.Wrap(nil, "detect", "put", "", errors.New("io")), services.KindTransient},
	}
	for _, tc := range cases {
		if got := services.Classify(tc.err); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestDetails(t *testing.T) {
	cause := errors.New("socket closed")
	err := fmt.Errorf("outer: %w", services.Wrap(services.ErrTransient, "detect", "upload", "result upload failed", cause))
	details := services.Details(err)
	if details.Kind != services.KindTransient {
		t.Fatalf("unexpected kind %s", details.Kind)
	}
	if details.Operation != "upload" || details.Message != "result upload failed" {
		t.Fatalf("unexpected details %+v", details)
	}
	if !errors.Is(details.Cause, cause) {
		t.Fatalf("expected cause to be preserved, got %v", details.Cause)
	}

	plain := services.Details(errors.New("plain failure"))
	if plain.Message != "plain failure" {
		t.Fatalf("expected message from plain error, got %q", plain.Message)
	}
}
