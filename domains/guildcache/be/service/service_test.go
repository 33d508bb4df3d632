package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/moddy-bot/moddy/platform/go/persistence"
)

type mockStore struct {
	cacheFn func(ctx context.Context, info persistence.GuildInfo, source persistence.UpdateSource) error
	getFn   func(ctx context.Context, guildID int64, maxAge time.Duration) (persistence.CachedGuild, error)
}

func (m *mockStore) CacheGuildInfo(ctx context.Context, info persistence.GuildInfo, source persistence.UpdateSource) error {
	if m.cacheFn == nil {
		panic("cacheFn not configured")
	}
	return m.cacheFn(ctx, info, source)
}

func (m *mockStore) GetCachedGuild(ctx context.Context, guildID int64, maxAge time.Duration) (persistence.CachedGuild, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx, guildID, maxAge)
}

func TestLookupServesFreshCache(t *testing.T) {
	store := &mockStore{getFn: func(_ context.Context, id int64, maxAge time.Duration) (persistence.CachedGuild, error) {
		require.Equal(t, time.Hour, maxAge)
		return persistence.CachedGuild{GuildInfo: persistence.GuildInfo{GuildID: id, Name: "Moddy HQ"}}, nil
	}}
	fetcher := FetcherFunc(func(context.Context, int64) (persistence.GuildInfo, error) {
		t.Fatal("fetcher must not be called")
		return persistence.GuildInfo{}, nil
	})

	got, err := New(store, fetcher, time.Hour, zaptest.NewLogger(t)).Lookup(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, "Moddy HQ", got.Name)
}

func TestLookupFetchesAndCachesOnMiss(t *testing.T) {
	var cached []persistence.UpdateSource
	var mu sync.Mutex
	release := make(chan struct{})
	var fetches atomic.Int32

	store := &mockStore{
		getFn: func(context.Context, int64, time.Duration) (persistence.CachedGuild, error) {
			return persistence.CachedGuild{}, persistence.ErrGuildNotCached
		},
		cacheFn: func(_ context.Context, info persistence.GuildInfo, source persistence.UpdateSource) error {
			mu.Lock()
			cached = append(cached, source)
			mu.Unlock()
			require.Equal(t, int64(7), info.GuildID)
			return nil
		},
	}
	fetcher := FetcherFunc(func(context.Context, int64) (persistence.GuildInfo, error) {
		fetches.Add(1)
		<-release
		return persistence.GuildInfo{Name: "Fetched", MemberCount: 10}, nil
	})
	svc := New(store, fetcher, 0, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.Lookup(context.Background(), 7)
			require.NoError(t, err)
			require.Equal(t, "Fetched", got.Name)
			require.Equal(t, persistence.SourceAPICall, got.UpdateSource)
		}()
	}
	require.Eventually(t, func() bool { return fetches.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	require.LessOrEqual(t, fetches.Load(), int32(4))
	require.NotEmpty(t, cached)
	require.Equal(t, persistence.SourceAPICall, cached[0])
}

func TestLookupWithoutFetcher(t *testing.T) {
	store := &mockStore{getFn: func(context.Context, int64, time.Duration) (persistence.CachedGuild, error) {
		return persistence.CachedGuild{}, persistence.ErrGuildNotCached
	}}
	_, err := New(store, nil, 0, nil).Lookup(context.Background(), 1)
	require.ErrorIs(t, err, ErrGuildUnknown)
}

func TestLookupStorageFailure(t *testing.T) {
	store := &mockStore{getFn: func(context.Context, int64, time.Duration) (persistence.CachedGuild, error) {
		return persistence.CachedGuild{}, persistence.ErrStorageUnavailable
	}}
	_, err := New(store, nil, 0, nil).Lookup(context.Background(), 1)
	require.ErrorIs(t, err, persistence.ErrStorageUnavailable)
}

func TestRemember(t *testing.T) {
	boom := errors.New("boom")
	store := &mockStore{cacheFn: func(_ context.Context, _ persistence.GuildInfo, source persistence.UpdateSource) error {
		require.Equal(t, persistence.SourceBotJoin, source)
		return boom
	}}
	err := New(store, nil, 0, nil).Remember(context.Background(), persistence.GuildInfo{GuildID: 1}, persistence.SourceBotJoin)
	require.ErrorIs(t, err, boom)
}

func TestLookupSharedFetchSurvivesCallerCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fetchErr := make(chan error, 2)
	var once sync.Once

	store := &mockStore{
		getFn: func(context.Context, int64, time.Duration) (persistence.CachedGuild, error) {
			return persistence.CachedGuild{}, persistence.ErrGuildNotCached
		},
		cacheFn: func(context.Context, persistence.GuildInfo, persistence.UpdateSource) error { return nil },
	}
	fetcher := FetcherFunc(func(ctx context.Context, _ int64) (persistence.GuildInfo, error) {
		once.Do(func() { close(started) })
		<-release
		fetchErr <- ctx.Err()
		return persistence.GuildInfo{Name: "Shared"}, nil
	})
	svc := New(store, fetcher, 0, zaptest.NewLogger(t))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Lookup(firstCtx, 9)
		firstDone <- err
	}()
	<-started

	secondDone := make(chan persistence.CachedGuild, 1)
	go func() {
		got, err := svc.Lookup(context.Background(), 9)
		require.NoError(t, err)
		secondDone <- got
	}()

	cancelFirst()
	require.ErrorIs(t, <-firstDone, context.Canceled)

	close(release)
	require.NoError(t, <-fetchErr)
	got := <-secondDone
	require.Equal(t, "Shared", got.Name)
	require.Equal(t, int64(9), got.GuildID)
}
