package uci

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func nextLine(t *testing.T, tr Transport) string {
	t.Helper()
	select {
	case line, ok := <-tr.Lines():
		if !ok {
			t.Fatalf("lines closed")
		}
		return line
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a line")
	}
	return ""
}

func TestWebSocketTransportSplitsFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var reply string
			switch strings.TrimSpace(string(data)) {
			case "uci":
				reply = "id name remote\nuciok\n"
			case "isready":
				reply = "readyok"
			}
			if reply == "" {
				continue
			}
			if err := conn.Write(r.Context(), websocket.MessageText, []byte(reply)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := &DefaultDialer{}
	tr, err := d.Dial(context.Background(), Source{
		Name:    "remote",
		Kind:    SourceRemote,
		Locator: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := tr.Send("uci"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := nextLine(t, tr); got != "id name remote" {
		t.Fatalf("first line = %q", got)
	}
	if got := nextLine(t, tr); got != "uciok" {
		t.Fatalf("second line = %q", got)
	}
	if err := tr.Send("isready"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := nextLine(t, tr); got != "readyok" {
		t.Fatalf("third line = %q", got)
	}

	_ = tr.Close()
	if err := tr.Send("quit"); err == nil {
		t.Fatalf("Send after Close should fail")
	}
}

func TestWebSocketDialFailure(t *testing.T) {
	d := &DefaultDialer{}
	_, err := d.Dial(context.Background(), Source{Kind: SourceRemote, Locator: "ws://127.0.0.1:1/uci"})
	if err == nil {
		t.Fatalf("expected dial error")
	}
}

func TestFetcherDownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("#!/bin/sh\nexit 0\n"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	url := srv.URL + "/engines/stockfish?v=17"

	first, err := f.Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.HasSuffix(first, "-stockfish") {
		t.Fatalf("path = %s", first)
	}
	info, err := os.Stat(first)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("binary not executable: %v", info.Mode())
	}

	second, err := f.Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if second != first || hits.Load() != 1 {
		t.Fatalf("cache miss: %s vs %s, hits=%d", first, second, hits.Load())
	}
}

func TestFetcherRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v", err)
	}
}

func TestDialUnsupportedScheme(t *testing.T) {
	d := &DefaultDialer{}
	if _, err := d.Dial(context.Background(), Source{Kind: SourceRemote, Locator: "ftp://engine.example/sf"}); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}
