package uci

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

const (
	wsDialTimeout  = 10 * time.Second
	wsWriteTimeout = 5 * time.Second
)

// dialWebSocket connects to a remote engine that exchanges UCI lines as text
// frames. A frame may carry several newline separated lines.
func dialWebSocket(ctx context.Context, endpoint string) (Transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, wsDialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("dial engine websocket: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	write := func(line string) error {
		wctx, cancel := context.WithTimeout(rootCtx, wsWriteTimeout)
		defer cancel()
		return conn.Write(wctx, websocket.MessageText, []byte(line))
	}
	closer := func() error {
		rootCancel()
		return conn.Close(websocket.StatusNormalClosure, "close")
	}
	t := newLineTransport(write, closer)

	go func() {
		defer close(t.lines)
		for {
			typ, data, err := conn.Read(rootCtx)
			if err != nil {
				return
			}
			if typ != websocket.MessageText {
				continue
			}
			for _, line := range strings.Split(string(data), "\n") {
				if strings.TrimSpace(line) == "" {
					continue
				}
				if !t.feed(line) {
					return
				}
			}
		}
	}()
	return t, nil
}
