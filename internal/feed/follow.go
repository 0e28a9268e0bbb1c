package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/retry"
)

// Follow connects to a Hub at url and emits its messages, reconnecting with
// backoff until ctx is done. Both channels close when Follow stops. Errors
// are dropped when nobody reads them.
func Follow(ctx context.Context, url string, backoff retry.Backoff) (<-chan []byte, <-chan error) {
	out := make(chan []byte, sendBuffer)
	errs := make(chan error, 16)

	go func() {
		defer close(out)
		defer close(errs)

		for ctx.Err() == nil {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				emitErr(errs, fmt.Errorf("feed dial: %w", err))
				if !backoff.Wait(ctx) {
					return
				}
				continue
			}
			backoff.Reset()

			if err := readSession(ctx, conn, out); err != nil && ctx.Err() == nil {
				emitErr(errs, err)
			}
			_ = conn.Close()
			if !backoff.Wait(ctx) {
				return
			}
		}
	}()
	return out, errs
}

func readSession(ctx context.Context, conn *websocket.Conn, out chan<- []byte) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return fmt.Errorf("feed read: %w", err)
		}
		if typ != websocket.TextMessage || len(msg) == 0 {
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func emitErr(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}
