package uci

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-duel/internal/domain"
	"go.uber.org/zap"
)

type fakeTransport struct {
	mu     sync.Mutex
	closed bool
	sent   chan string
	lines  chan string
	exit   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:  make(chan string, 128),
		lines: make(chan string, 128),
	}
}

func (f *fakeTransport) Send(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errTransportClosed
	}
	f.sent <- line
	return nil
}

func (f *fakeTransport) Lines() <-chan string { return f.lines }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.terminate()
	return nil
}

func (f *fakeTransport) terminate() {
	f.exit.Do(func() { close(f.lines) })
}

func (f *fakeTransport) reply(line string) { f.lines <- line }

type fakeDialer struct {
	transports map[string]*fakeTransport
}

func (d *fakeDialer) Dial(_ context.Context, src Source) (Transport, error) {
	ft, ok := d.transports[src.Name]
	if !ok {
		return nil, errors.New("no such engine")
	}
	return ft, nil
}

func expectSent(t *testing.T, ft *fakeTransport, want string) {
	t.Helper()
	select {
	case got := <-ft.sent:
		if got != want {
			t.Fatalf("sent %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func expectNothingSent(t *testing.T, ft *fakeTransport) {
	t.Helper()
	select {
	case got := <-ft.sent:
		t.Fatalf("unexpected line %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

type moveResult struct {
	mv  domain.Move
	err error
}

func collect() (MoveCallback, chan moveResult) {
	ch := make(chan moveResult, 1)
	return func(mv domain.Move, err error) { ch <- moveResult{mv: mv, err: err} }, ch
}

func await(t *testing.T, ch chan moveResult) moveResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatalf("callback not invoked")
		return moveResult{}
	}
}

func spawnFake(t *testing.T, opt Options) (*Session, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	d := &fakeDialer{transports: map[string]*fakeTransport{"fake": ft}}
	s, err := Spawn(context.Background(), Source{Name: "fake", Kind: SourceBinding, Locator: "fake"}, opt, d, zap.NewNop())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(func() { _ = s.Terminate() })
	expectSent(t, ft, "uci")
	return s, ft
}

func readySession(t *testing.T, opt Options) (*Session, *fakeTransport) {
	t.Helper()
	s, ft := spawnFake(t, opt)
	ft.reply("id name fake")
	ft.reply("uciok")
	expectSent(t, ft, "setoption name Skill Level value 5")
	expectSent(t, ft, "isready")
	ft.reply("readyok")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.AwaitReady(ctx); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
	return s, ft
}

func TestSessionQueuesRequestsUntilReady(t *testing.T) {
	s, ft := spawnFake(t, Options{SkillLevel: 5})

	cb1, res1 := collect()
	cb2, res2 := collect()
	if err := s.RequestMove("fenA", 3, cb1); err != nil {
		t.Fatalf("RequestMove#1: %v", err)
	}
	if err := s.RequestMove("fenB", 3, cb2); err != nil {
		t.Fatalf("RequestMove#2: %v", err)
	}

	ft.reply("uciok")
	expectSent(t, ft, "setoption name Skill Level value 5")
	expectSent(t, ft, "isready")
	// nothing may be searched before readyok
	expectNothingSent(t, ft)

	ft.reply("readyok")
	expectSent(t, ft, "position fen fenA")
	expectSent(t, ft, "go depth 3")
	// second request waits for the first reply
	expectNothingSent(t, ft)

	ft.reply("info depth 3 seldepth 4 score cp 20")
	ft.reply("bestmove e2e4 ponder e7e5")
	if got := await(t, res1); got.err != nil || got.mv.String() != "e2e4" {
		t.Fatalf("first reply: %+v", got)
	}
	expectSent(t, ft, "position fen fenB")
	expectSent(t, ft, "go depth 3")

	ft.reply("bestmove d2d4")
	if got := await(t, res2); got.err != nil || got.mv.String() != "d2d4" {
		t.Fatalf("second reply: %+v", got)
	}
	if st := s.State(); st != StateReady {
		t.Fatalf("state = %s", st)
	}
}

func TestSessionRejectsConcurrentSearch(t *testing.T) {
	s, ft := readySession(t, Options{SkillLevel: 5})

	cb, res := collect()
	if err := s.RequestMove("", 2, cb); err != nil {
		t.Fatalf("RequestMove: %v", err)
	}
	expectSent(t, ft, "position startpos")
	expectSent(t, ft, "go depth 2")
	if st := s.State(); st != StateSearching {
		t.Fatalf("state = %s", st)
	}

	cb2, _ := collect()
	if err := s.RequestMove("", 2, cb2); !errors.Is(err, ErrSearchInFlight) {
		t.Fatalf("expected ErrSearchInFlight, got %v", err)
	}
	expectNothingSent(t, ft)

	ft.reply("bestmove g1f3")
	if got := await(t, res); got.err != nil || got.mv.String() != "g1f3" {
		t.Fatalf("reply: %+v", got)
	}
}

func TestSessionHandshakeTimeout(t *testing.T) {
	s, _ := spawnFake(t, Options{SkillLevel: 5, HandshakeTimeout: 50 * time.Millisecond})

	cb, res := collect()
	if err := s.RequestMove("", 1, cb); err != nil {
		t.Fatalf("RequestMove: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.AwaitReady(ctx); !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
	if got := await(t, res); !errors.Is(got.err, ErrHandshakeTimeout) {
		t.Fatalf("queued request: %v", got.err)
	}
	if st := s.State(); st != StateTerminated {
		t.Fatalf("state = %s", st)
	}
}

func TestSessionSearchTimeoutDropsLateReply(t *testing.T) {
	s, ft := readySession(t, Options{SkillLevel: 5, SearchTimeout: 50 * time.Millisecond})

	cb1, res1 := collect()
	if err := s.RequestMove("", 15, cb1); err != nil {
		t.Fatalf("RequestMove#1: %v", err)
	}
	expectSent(t, ft, "position startpos")
	expectSent(t, ft, "go depth 15")
	if got := await(t, res1); !errors.Is(got.err, ErrSearchTimeout) {
		t.Fatalf("expected ErrSearchTimeout, got %+v", got)
	}
	expectSent(t, ft, "stop")

	cb2, res2 := collect()
	if err := s.RequestMove("fenB", 15, cb2); err != nil {
		t.Fatalf("RequestMove#2: %v", err)
	}
	expectSent(t, ft, "position fen fenB")
	expectSent(t, ft, "go depth 15")

	// the reply to the abandoned search arrives first and must be dropped
	ft.reply("bestmove a2a3")
	ft.reply("bestmove b2b3")
	if got := await(t, res2); got.err != nil || got.mv.String() != "b2b3" {
		t.Fatalf("second reply: %+v", got)
	}
}

func TestSessionUnusableReplyIsNotCountedAsStale(t *testing.T) {
	s, ft := readySession(t, Options{SkillLevel: 5, SearchTimeout: 300 * time.Millisecond})

	cb1, res1 := collect()
	if err := s.RequestMove("", 15, cb1); err != nil {
		t.Fatalf("RequestMove#1: %v", err)
	}
	expectSent(t, ft, "position startpos")
	expectSent(t, ft, "go depth 15")
	// the engine answers, but with nothing the session can play
	ft.reply("bestmove (none)")
	if got := await(t, res1); !errors.Is(got.err, ErrSearchTimeout) {
		t.Fatalf("expected ErrSearchTimeout, got %+v", got)
	}
	// that search is over, so there is nothing to stop
	expectNothingSent(t, ft)

	cb2, res2 := collect()
	if err := s.RequestMove("fenB", 15, cb2); err != nil {
		t.Fatalf("RequestMove#2: %v", err)
	}
	expectSent(t, ft, "position fen fenB")
	expectSent(t, ft, "go depth 15")
	ft.reply("bestmove b2b3")
	if got := await(t, res2); got.err != nil || got.mv.String() != "b2b3" {
		t.Fatalf("second reply: %+v", got)
	}
}

func TestSessionTerminateIsIdempotent(t *testing.T) {
	s, ft := spawnFake(t, Options{SkillLevel: 5})

	cb, res := collect()
	if err := s.RequestMove("", 1, cb); err != nil {
		t.Fatalf("RequestMove: %v", err)
	}
	if err := s.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	expectSent(t, ft, "quit")
	if got := await(t, res); !errors.Is(got.err, ErrSessionClosed) {
		t.Fatalf("queued request: %v", got.err)
	}
	if err := s.Terminate(); err != nil {
		t.Fatalf("second Terminate: %v", err)
	}
	if err := s.RequestMove("", 1, func(domain.Move, error) {}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if st := s.State(); st != StateTerminated {
		t.Fatalf("state = %s", st)
	}
}

func TestSessionEngineExitBeforeReady(t *testing.T) {
	s, ft := spawnFake(t, Options{SkillLevel: 5})
	ft.terminate()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.AwaitReady(ctx); !errors.Is(err, ErrEngineExited) {
		t.Fatalf("expected ErrEngineExited, got %v", err)
	}
}

func TestSessionNewGame(t *testing.T) {
	s, ft := readySession(t, Options{SkillLevel: 5})

	done := make(chan error, 1)
	go func() { done <- s.NewGame(context.Background()) }()
	expectSent(t, ft, "ucinewgame")
	expectSent(t, ft, "isready")
	ft.reply("readyok")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("NewGame: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("NewGame did not return")
	}
}

func TestSpawnRejectsBadSkill(t *testing.T) {
	_, err := Spawn(context.Background(), Source{Name: "x"}, Options{SkillLevel: 21}, &fakeDialer{}, zap.NewNop())
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestSpawnDialFailure(t *testing.T) {
	_, err := Spawn(context.Background(), Source{Name: "missing"}, Options{}, &fakeDialer{}, zap.NewNop())
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) || !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
}
