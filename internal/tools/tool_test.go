package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "aptos-agent/internal/errors"
	"aptos-agent/internal/observability/metrics"
)

func TestRegistryOrderAndSpecs(t *testing.T) {
	registry, err := NewRegistry(ArithmeticTools()...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	names := registry.Names()
	if len(names) != 3 || names[0] != "add" || names[1] != "sub" || names[2] != "mul" {
		t.Fatalf("unexpected order %v", names)
	}
	specs := registry.Specs()
	if specs[1].Description != "Substract two numbers together" {
		t.Fatalf("unexpected description %q", specs[1].Description)
	}
	if specs[0].Parameters["type"] != "object" {
		t.Fatalf("expected object schema, got %v", specs[0].Parameters)
	}
	if err := registry.Register(ArithmeticTools()[0]); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestInvokeArithmetic(t *testing.T) {
	registry, err := NewRegistry(ArithmeticTools()...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	cases := []struct {
		tool string
		args string
		want string
	}{
		{"add", `{"a": 2, "b": 3}`, "5"},
		{"sub", `{"a": 2, "b": 3}`, "-1"},
		{"mul", `{"a": 12, "b": 12}`, "144"},
		{"add", `{"a": "7", "b": 3.0}`, "10"},
		{"add", `{"a": 9223372036854775807, "b": 0}`, "9223372036854775807"},
		{"sub", `{"a": -9223372036854775807, "b": 1}`, "-9223372036854775808"},
	}
	for _, tc := range cases {
		got, err := registry.Invoke(context.Background(), tc.tool, tc.args)
		if err != nil {
			t.Fatalf("%s(%s): %v", tc.tool, tc.args, err)
		}
		if got != tc.want {
			t.Fatalf("%s(%s) = %s, want %s", tc.tool, tc.args, got, tc.want)
		}
	}
}

func TestInvokeArgumentErrors(t *testing.T) {
	registry, err := NewRegistry(ArithmeticTools()...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	cases := []struct {
		tool string
		args string
	}{
		{"add", `{"a": 1}`},
		{"add", `{"a": 1.5, "b": 2}`},
		{"add", `{"a": "x", "b": 2}`},
		{"add", `[1, 2]`},
		{"add", `{`},
		// 2^63 does not fit an int64.
		{"add", `{"a": 9223372036854775808, "b": 0}`},
		{"add", `{"a": "9223372036854775808", "b": 0}`},
		{"add", `{"a": 9.223372036854775807e18, "b": 1}`},
		{"add", `{"a": "-9223372036854775809", "b": 0}`},
		{"mul", `{"a": 4294967296, "b": 4294967295}`},
		{"add", `{"a": 9223372036854775807, "b": 1}`},
	}
	for _, tc := range cases {
		out, err := registry.Invoke(context.Background(), tc.tool, tc.args)
		if !IsArgumentError(err) {
			t.Fatalf("%s(%s): expected argument error, got %q, %v", tc.tool, tc.args, out, err)
		}
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	registry, err := NewRegistry(ArithmeticTools()...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	out, err := registry.Invoke(context.Background(), "div", `{}`)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected unknown tool error, got %v", err)
	}
	if xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("unexpected code %s", xerrors.CodeOf(err))
	}
	if want := "div is not a valid tool, try one of [add, sub, mul]."; out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
	if IsArgumentError(err) {
		t.Fatalf("unknown tool is not an argument error")
	}
}

func TestUnknownToolNamesStayOutOfMetricLabels(t *testing.T) {
	registry, err := NewRegistry(ArithmeticTools()...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	_, _ = registry.Invoke(context.Background(), "tool_name_from_caller", `{}`)
	_, _ = registry.InvokeArgs(context.Background(), "another_name_from_caller", nil)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if strings.Contains(body, "name_from_caller") {
		t.Fatalf("caller supplied tool name exported as a label")
	}
	if !strings.Contains(body, `tool="`+metrics.UnknownTool+`"`) {
		t.Fatalf("unknown tool invocations not recorded")
	}
}

func TestOptionalUint64(t *testing.T) {
	args, err := ParseArgs(`{"v": 42, "neg": -1}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	v, err := args.OptionalUint64("v")
	if err != nil || v == nil || *v != 42 {
		t.Fatalf("unexpected value %v, %v", v, err)
	}
	if absent, err := args.OptionalUint64("missing"); err != nil || absent != nil {
		t.Fatalf("expected nil for absent argument, got %v, %v", absent, err)
	}
	if _, err := args.OptionalUint64("neg"); err == nil {
		t.Fatalf("expected error for negative value")
	}
}
