package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	providers, err := NewProviders(ctx, "", "test-service", false)
	if err != nil {
		t.Fatalf("NewProviders empty endpoint: %v", err)
	}
	if providers.TracerProvider == nil {
		t.Error("TracerProvider should not be nil")
	}
	if providers.MeterProvider == nil {
		t.Error("MeterProvider should not be nil")
	}

	// Shutdown is a no-op and callable more than once.
	if err := providers.Shutdown(ctx); err != nil {
		t.Errorf("first shutdown: %v", err)
	}
	if err := providers.Shutdown(ctx); err != nil {
		t.Errorf("second shutdown: %v", err)
	}
}

func TestNewProviders_WhitespaceEndpoint(t *testing.T) {
	providers, err := NewProviders(context.Background(), "   ", "test-service", false)
	if err != nil {
		t.Fatalf("NewProviders whitespace endpoint: %v", err)
	}
	if providers == nil {
		t.Fatal("providers should not be nil")
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"://invalid", "http://[invalid", "http://"} {
		if _, err := NewProviders(ctx, endpoint, "test-service", false); err == nil {
			t.Errorf("NewProviders(%q) should return error", endpoint)
		}
	}
}

func TestSetGlobal(t *testing.T) {
	providers, err := NewProviders(context.Background(), "", "test-service", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}

	oldTP := otel.GetTracerProvider()
	oldMP := otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(oldTP)
		otel.SetMeterProvider(oldMP)
	}()

	providers.SetGlobal()
	if otel.GetTracerProvider() == oldTP {
		t.Error("TracerProvider should be updated")
	}
	if otel.GetMeterProvider() == oldMP {
		t.Error("MeterProvider should be updated")
	}
}

func TestSetGlobal_NilProviders(t *testing.T) {
	providers := &Providers{Shutdown: func(context.Context) error { return nil }}
	providers.SetGlobal() // must not panic
}
