package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithActor(ctx, "user-1")
	ctx = WithEvent(ctx, "stripe", "evt_1")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "user-1", ActorFromContext(ctx))
	provider, eventID := EventFromContext(ctx)
	assert.Equal(t, "stripe", provider)
	assert.Equal(t, "evt_1", eventID)
}

func TestContextValuesMissing(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	provider, eventID := EventFromContext(context.Background())
	assert.Empty(t, provider)
	assert.Empty(t, eventID)
}
