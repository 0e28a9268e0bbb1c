package feed

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/retry"
)

func recv(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "feed closed")
		return string(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed message")
	}
	return ""
}

func TestHubBroadcastsToFollower(t *testing.T) {
	hub := NewHub(nil)
	hub.Hello = func() ([]byte, error) { return []byte(`{"type":"snapshot"}`), nil }
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	msgs, _ := Follow(ctx, url, retry.Backoff{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond})

	require.Equal(t, `{"type":"snapshot"}`, recv(t, msgs))
	require.Equal(t, 1, hub.Clients())

	hub.Broadcast([]byte(`{"type":"OfferWrite","id":4}`))
	hub.Broadcast([]byte(`{"type":"OfferRetract","id":4}`))
	require.Equal(t, `{"type":"OfferWrite","id":4}`, recv(t, msgs))
	require.Equal(t, `{"type":"OfferRetract","id":4}`, recv(t, msgs))

	hub.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 10*time.Millisecond)

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-msgs:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("follower did not stop")
		}
	}
}

func TestFollowReportsDialErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, errs := Follow(ctx, "ws://127.0.0.1:1/none", retry.Backoff{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond})
	select {
	case err := <-errs:
		require.ErrorContains(t, err, "feed dial")
	case <-time.After(2 * time.Second):
		t.Fatal("no dial error reported")
	}
}

func TestHelloPrecedesConcurrentBroadcast(t *testing.T) {
	hub := NewHub(nil)
	hub.Hello = func() ([]byte, error) {
		// a record published while the snapshot is being taken
		sent := make(chan struct{})
		go func() {
			hub.Broadcast([]byte(`{"type":"OfferWrite","id":9}`))
			close(sent)
		}()
		select {
		case <-sent:
		case <-time.After(50 * time.Millisecond):
		}
		return []byte(`{"type":"snapshot"}`), nil
	}
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	msgs, _ := Follow(ctx, url, retry.Backoff{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond})

	require.Equal(t, `{"type":"snapshot"}`, recv(t, msgs))
	require.Equal(t, `{"type":"OfferWrite","id":9}`, recv(t, msgs))
}

func TestHelloFailureRejectsClient(t *testing.T) {
	hub := NewHub(nil)
	hub.Hello = func() ([]byte, error) { return nil, errors.New("no replica") }
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	msgs, _ := Follow(ctx, url, retry.Backoff{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond})

	select {
	case msg := <-msgs:
		t.Fatalf("unexpected message %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
	require.Zero(t, hub.Clients())
}
