package tracking

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisTracker(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx := context.Background()
	tracker, err := NewRedisTracker(ctx, "redis://"+mr.Addr(), "binfish:sent")
	require.NoError(t, err)
	defer tracker.Close()

	tracker.RecordSend("track-1")
	tracker.RecordSend("track-2")

	n, err := tracker.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := mr.List("binfish:sent")
	require.NoError(t, err)
	assert.Equal(t, []string{"track-1", "track-2"}, list)
}

func TestRedisTrackerUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()

	tracker, err := NewRedisTracker(context.Background(), "redis://"+addr, "binfish:sent")
	require.NoError(t, err)
	defer tracker.Close()

	mr.Close()
	assert.NotPanics(t, func() {
		tracker.RecordSend("track-1")
	})
}

func TestNewRedisTrackerInvalid(t *testing.T) {
	_, err := NewRedisTracker(context.Background(), "http://localhost", "binfish:sent")
	assert.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisTracker(context.Background(), "redis://"+addr, "binfish:sent")
	assert.Error(t, err)
}
