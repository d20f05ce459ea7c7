//go:build integration

package database

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/kbchat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool, err := NewPool(ctx, Config{URL: pc.ConnectionString(), MaxConns: 4, MaxConnLifetime: time.Minute})
	require.NoError(t, err)
	defer pool.Close()

	assert.Equal(t, int32(4), pool.Config().MaxConns)

	var one int
	require.NoError(t, pool.QueryRow(ctx, "SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}
