package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/mangrove"
	"github.com/mangrovedao/mangrove-archive-sub000/internal/market"
)

type fakeConfig struct {
	mu   sync.Mutex
	dead bool
}

func (f *fakeConfig) setDead() {
	f.mu.Lock()
	f.dead = true
	f.mu.Unlock()
}

func (f *fakeConfig) Config(context.Context, common.Address, common.Address) (mangrove.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return mangrove.Config{Global: mangrove.GlobalConfig{Dead: f.dead}}, nil
}

type fakeBook struct {
	mu           sync.Mutex
	state        market.State
	subscribes   int
	unsubscribes int
	onError      func(error)
}

func (b *fakeBook) Subscribe(_ context.Context, _ market.Callback, opts market.SubscribeOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != market.Unsubscribed {
		return market.ErrAlreadySubscribed
	}
	b.state = market.Subscribed
	b.subscribes++
	b.onError = opts.OnError
	return nil
}

func (b *fakeBook) Unsubscribe() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != market.Subscribed {
		return market.ErrNotSubscribed
	}
	b.state = market.Unsubscribed
	b.unsubscribes++
	return nil
}

func (b *fakeBook) State() market.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// drop mimics a transport failure: the market unsubscribes itself and then
// reports the error.
func (b *fakeBook) drop(err error) {
	b.mu.Lock()
	b.state = market.Unsubscribed
	onError := b.onError
	b.mu.Unlock()
	onError(err)
}

func (b *fakeBook) count() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes, b.unsubscribes
}

func TestWatchStopsWhenDead(t *testing.T) {
	cfg := &fakeConfig{}
	book := &fakeBook{}
	c := newCleaner(&fakeSniper{}, zap.NewNop(), nil, nil, nil, true)

	done := make(chan error, 1)
	go func() { done <- watch(context.Background(), cfg, book, c, 5*time.Millisecond, zap.NewNop()) }()

	require.Eventually(t, func() bool {
		subs, _ := book.count()
		return subs == 1
	}, time.Second, time.Millisecond)
	cfg.setDead()

	select {
	case err := <-done:
		require.ErrorIs(t, err, errDead)
	case <-time.After(2 * time.Second):
		t.Fatal("watch kept running on a dead exchange")
	}
	_, unsubs := book.count()
	require.Equal(t, 1, unsubs)
}

func TestWatchResubscribesAfterLoss(t *testing.T) {
	book := &fakeBook{}
	c := newCleaner(&fakeSniper{}, zap.NewNop(), nil, nil, nil, true)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- watch(ctx, &fakeConfig{}, book, c, time.Hour, zap.NewNop()) }()

	require.Eventually(t, func() bool {
		subs, _ := book.count()
		return subs == 1
	}, time.Second, time.Millisecond)
	book.drop(market.ErrNotSubscribed)

	require.Eventually(t, func() bool {
		subs, _ := book.count()
		return subs == 2
	}, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
