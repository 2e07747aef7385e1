package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasScopes(t *testing.T) {
	a := &Access{Subject: "u1", TenantID: "t1", Scopes: []string{"invoice:read", "invoice:write"}}
	assert.True(t, a.HasScopes())
	assert.True(t, a.HasScopes("invoice:read"))
	assert.True(t, a.HasScopes("invoice:read", "invoice:write"))
	assert.False(t, a.HasScopes("invoice:read", "customer:read"))

	var none *Access
	assert.True(t, none.HasScopes())
	assert.False(t, none.HasScopes("invoice:read"))
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	a := &Access{Subject: "u1"}
	got, ok := FromContext(NewContext(context.Background(), a))
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = FromContext(NewContext(context.Background(), nil))
	assert.False(t, ok)
}
