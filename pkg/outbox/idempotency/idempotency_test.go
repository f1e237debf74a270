package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	marked  map[string]time.Duration
	setErr  error
	delErr  error
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{marked: map[string]time.Duration{}}
}

func (f *fakeStore) Get(context.Context, string) (string, error) { return "", nil }

func (f *fakeStore) Set(context.Context, string, any, time.Duration) error { return nil }

func (f *fakeStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	if f.setErr != nil {
		return false, f.setErr
	}
	if _, ok := f.marked[key]; ok {
		return false, nil
	}
	f.marked[key] = ttl
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "sp:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	f.deleted = append(f.deleted, keys...)
	if f.delErr != nil {
		return f.delErr
	}
	for _, k := range keys {
		delete(f.marked, k)
	}
	return nil
}

func TestProcessMarksWithTTL(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, 24*time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	duplicate, err := manager.Process(context.Background(), "job-outcomes", eventID, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.False(t, duplicate)

	key := "sp:idempotency:evt:processed:job-outcomes:" + eventID.String()
	assert.Equal(t, map[string]time.Duration{key: 24 * time.Hour}, store.marked)
}

func TestProcessSkipsSecondDelivery(t *testing.T) {
	manager, err := NewManager(newFakeStore(), time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	calls := 0
	handler := func(context.Context) error { calls++; return nil }

	_, err = manager.Process(context.Background(), "job-outcomes", eventID, handler)
	require.NoError(t, err)
	duplicate, err := manager.Process(context.Background(), "job-outcomes", eventID, handler)
	require.NoError(t, err)

	assert.True(t, duplicate)
	assert.Equal(t, 1, calls)
}

func TestProcessReleasesMarkerOnFailure(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	boom := errors.New("ledger unavailable")
	_, err = manager.Process(context.Background(), "job-outcomes", eventID, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Empty(t, store.marked)

	calls := 0
	duplicate, err := manager.Process(context.Background(), "job-outcomes", eventID, func(context.Context) error { calls++; return nil })
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, 1, calls)
}

func TestProcessReportsReleaseFailure(t *testing.T) {
	store := newFakeStore()
	store.delErr = errors.New("redis gone")
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	boom := errors.New("ledger unavailable")
	_, err = manager.Process(context.Background(), "job-outcomes", uuid.New(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "redis gone")
}

func TestProcessClaimError(t *testing.T) {
	store := newFakeStore()
	store.setErr = errors.New("timeout")
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	called := false
	_, err = manager.Process(context.Background(), "job-outcomes", uuid.New(), func(context.Context) error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)
}

func TestKeyValidation(t *testing.T) {
	manager, err := NewManager(newFakeStore(), time.Hour)
	require.NoError(t, err)

	_, err = manager.Process(context.Background(), "", uuid.New(), func(context.Context) error { return nil })
	assert.Error(t, err)
	_, err = manager.Process(context.Background(), "job-outcomes", uuid.Nil, func(context.Context) error { return nil })
	assert.Error(t, err)

	_, err = NewManager(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewManager(newFakeStore(), -time.Second)
	assert.Error(t, err)
}
