package counter

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStages_AddAndSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewStages(client)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "shipment", OutcomeOK))
	require.NoError(t, s.Add(ctx, "shipment", OutcomeOK))
	require.NoError(t, s.Add(ctx, "email", OutcomeFailed))
	mr.HSet(stageCountersKey, "garbage", "1")

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []StageCount{
		{Stage: "email", Outcome: OutcomeFailed, Count: 1},
		{Stage: "shipment", Outcome: OutcomeOK, Count: 2},
	}, snap)
}

func TestStages_NilIsNoop(t *testing.T) {
	s := NewStages(nil)
	assert.Nil(t, s)
	assert.NoError(t, s.Add(context.Background(), "shipment", OutcomeOK))

	snap, err := s.Snapshot(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, snap)
}
