package cachemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type wrappedInput struct {
	Id int
}

func TestReadThroughCache_Get_WithCacheDisabled(t *testing.T) {
	manager := NewInMemoryCacheManager[string, ExampleStruct]("read-through", DefaultExpiration, DefaultCleanupInterval)
	loads := 0

	readThroughCache := NewReadThroughCache[string, ExampleStruct, wrappedInput](
		manager,
		func(ctx context.Context, input wrappedInput) (ExampleStruct, error) {
			loads++
			return ExampleStruct{ID: input.Id}, nil
		},
		true,
	)

	example, err := readThroughCache.Get(context.Background(), "key", wrappedInput{Id: 1}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, ExampleStruct{ID: 1}, example)

	// Skipping the cache means every call loads.
	_, err = readThroughCache.Get(context.Background(), "key", wrappedInput{Id: 1}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, loads)
}

func TestReadThroughCache_Get_WithValueInCache(t *testing.T) {
	manager := NewInMemoryCacheManager[string, ExampleStruct]("read-through", DefaultExpiration, DefaultCleanupInterval)
	manager.Set(context.Background(), "key", ExampleStruct{ID: 1, Name: "Example"}, DefaultExpiration)

	readThroughCache := NewReadThroughCache[string, ExampleStruct, wrappedInput](
		manager,
		func(ctx context.Context, input wrappedInput) (ExampleStruct, error) {
			t.Fatal("loader must not run on a cache hit")
			return ExampleStruct{}, nil
		},
		false,
	)

	example, err := readThroughCache.Get(context.Background(), "key", wrappedInput{Id: 1}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, ExampleStruct{ID: 1, Name: "Example"}, example)
}

func TestReadThroughCache_Get_EmptyCache(t *testing.T) {
	manager := NewInMemoryCacheManager[string, ExampleStruct]("read-through", DefaultExpiration, DefaultCleanupInterval)

	readThroughCache := NewReadThroughCache[string, ExampleStruct, wrappedInput](
		manager,
		func(ctx context.Context, input wrappedInput) (ExampleStruct, error) {
			return ExampleStruct{ID: input.Id}, nil
		},
		false,
	)

	example, err := readThroughCache.Get(context.Background(), "key", wrappedInput{Id: 1}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, ExampleStruct{ID: 1}, example)

	// Loaded value lands in the cache.
	cached, ok := manager.Get(context.Background(), "key")
	require.True(t, ok)
	require.Equal(t, ExampleStruct{ID: 1}, cached)
}

func TestReadThroughCache_Get_LoaderError(t *testing.T) {
	manager := NewInMemoryCacheManager[string, ExampleStruct]("read-through", DefaultExpiration, DefaultCleanupInterval)

	readThroughCache := NewReadThroughCache[string, ExampleStruct, wrappedInput](
		manager,
		func(ctx context.Context, input wrappedInput) (ExampleStruct, error) {
			return ExampleStruct{}, errors.New("failed to get data")
		},
		false,
	)

	_, err := readThroughCache.Get(context.Background(), "key", wrappedInput{Id: 1}, time.Minute)
	require.Error(t, err)

	// Failures are not cached.
	_, ok := manager.Get(context.Background(), "key")
	require.False(t, ok)
}
