package observability

import "testing"

func TestTracerReturnsNamedTracer(t *testing.T) {
	tr := Tracer("sylvia-iot-broker/dispatch")
	if tr == nil {
		t.Fatal("expected a non-nil tracer")
	}
}
