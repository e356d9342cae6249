package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procureflow/backend/internal/storage/models"
)

func TestNilClientIsNoOp(t *testing.T) {
	var c *Client

	require.NoError(t, c.SetStructured(context.Background(), "abc", models.StructuredContent{"title": "x"}))

	content, ok, err := c.GetStructured(context.Background(), "abc")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, content)

	assert.NoError(t, c.Close())
}
