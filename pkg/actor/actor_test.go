package actor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))
	assert.Equal(t, "", IDFromContext(ctx))

	nurse := &Actor{ID: "user-17", Email: "nurse@clinic.local", Role: "pharmacist"}
	ctx = WithActor(ctx, nurse)
	assert.Same(t, nurse, FromContext(ctx))
	assert.Equal(t, "user-17", IDFromContext(ctx))
}

func TestActorString(t *testing.T) {
	var nobody *Actor
	assert.Equal(t, "system", nobody.String())
	assert.Equal(t, "system", SystemActor().String())
	assert.True(t, SystemActor().IsSystem())
	assert.Equal(t, "u1", (&Actor{ID: "u1"}).String())
	assert.Equal(t, "u1 (a@b.c)", (&Actor{ID: "u1", Email: "a@b.c"}).String())
	assert.False(t, (&Actor{ID: "u1"}).IsSystem())
}
