package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/jsonimport/internal/model"
	"github.com/logflow/jsonimport/pkg/sink"
)

func TestSession_RecordsResolvedCalls(t *testing.T) {
	ctx := context.Background()
	store := New()
	s := store.Session()

	id := model.NewTimelineID()
	require.NoError(t, s.OpenTimeline(ctx, id))

	name, err := s.DeclareKey(ctx, "event.name")
	require.NoError(t, err)
	again, err := s.DeclareKey(ctx, "event.name")
	require.NoError(t, err)
	assert.Equal(t, name, again)

	require.NoError(t, s.SendEvent(ctx, model.OrderingFromUint64(7), []sink.KeyedValue{
		{Key: name, Value: model.String("boot")},
	}))

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].Timeline)
	assert.Equal(t, "7", events[0].Ordering.String())
	v, ok := events[0].Attrs.Get("event.name")
	require.True(t, ok)
	assert.Equal(t, "boot", v.String())

	assert.Equal(t, []string{"event.name"}, store.Keys())
	assert.Len(t, store.CallsOf(OpDeclareKey), 2)
}

func TestSession_RequiresOpenTimeline(t *testing.T) {
	s := New().Session()
	err := s.SendEvent(context.Background(), model.Ordering{}, nil)
	assert.ErrorIs(t, err, sink.ErrNoTimeline)
}

func TestStore_FailOn(t *testing.T) {
	ctx := context.Background()
	store := New()
	boom := errors.New("boom")
	store.FailOn(OpOpenTimeline, boom)

	s, err := store.Open(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, s.OpenTimeline(ctx, model.NewTimelineID()), boom)

	store.FailOn(OpOpenTimeline, nil)
	assert.NoError(t, s.OpenTimeline(ctx, model.NewTimelineID()))

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, 1, store.Closed())
}
