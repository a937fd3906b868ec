package tracing

import (
	"context"
	"errors"

	"github.com/smallbiznis/waiterless/internal/errs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

// Line items and customer names never reach span attributes.
var blockedAttributeKeys = map[attribute.Key]struct{}{
	"customer_name":        {},
	"special_instructions": {},
	"line_items":           {},
	"http.request.body":    {},
	"authorization":        {},
}

// SafeAttributes drops attributes that may carry customer data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attr.Key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError reduces err to its taxonomy kind so error messages with request
// data are not exported.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(errs.Kind(err))
}

// ExtractContext restores an upstream trace context from carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
