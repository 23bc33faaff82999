package services_test

import (
	"errors"
	"strings"
	"testing"

	"migrate/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternal, "images", "fetch", "download failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"images", "fetch", "download failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapNilMarkerDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestDetails(t *testing.T) {
	cause := errors.New("no such file")
	err := services.Wrap(services.ErrConfiguration, "options", "validate", "source missing", cause)

	details := services.Details(err)
	if details.Kind != services.KindConfiguration {
		t.Fatalf("unexpected kind %q", details.Kind)
	}
	if details.Stage != "options" || details.Operation != "validate" || details.Message != "source missing" {
		t.Fatalf("unexpected details: %+v", details)
	}
	if details.Cause != cause {
		t.Fatalf("expected cause to be preserved")
	}
	if !services.IsConfiguration(err) {
		t.Fatal("expected configuration error")
	}

	plain := services.Details(errors.New("plain"))
	if plain.Kind != services.KindUnknown || plain.Message != "plain" {
		t.Fatalf("unexpected plain details: %+v", plain)
	}
}
