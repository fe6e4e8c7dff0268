package tracing

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsIdentifiers(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/webhooks/:provider"),
		attribute.String("afiliado_id", "a-1"),
		attribute.String("long", strings.Repeat("x", 1000)),
	)
	assert.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
	assert.Len(t, attrs[1].Value.AsString(), maxAttributeLength)
}

func TestSafeError(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	assert.EqualError(t, SafeError(errors.New(" boom ")), "boom")
}
