package uci

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-duel/internal/domain"
	"github.com/park285/cheese-duel/internal/obslog"
	"go.uber.org/zap"
)

type State int

const (
	StateSpawning State = iota
	StateHandshaking
	StateConfiguringOptions
	StateAwaitingReady
	StateReady
	StateSearching
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateHandshaking:
		return "handshaking"
	case StateConfiguringOptions:
		return "configuring_options"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateReady:
		return "ready"
	case StateSearching:
		return "searching"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MoveCallback receives the outcome of one RequestMove call, exactly once.
type MoveCallback = func(domain.Move, error)

type searchRequest struct {
	token  string
	depth  int
	cb     MoveCallback
	timer  *time.Timer
	sentAt time.Time
	// answered is set when the engine replied with a bestmove that could not
	// be used; no late reply follows a timeout then.
	answered bool
}

// Session owns one engine transport and drives the UCI handshake:
// uci -> uciok -> setoption... -> isready -> readyok. Move requests issued
// before readyok are queued and flushed in order, one search at a time.
type Session struct {
	id        string
	source    Source
	opt       Options
	transport Transport
	logger    *zap.Logger
	startedAt time.Time

	mu             sync.Mutex
	state          State
	queue          []*searchRequest
	inflight       *searchRequest
	stale          int
	handshakeTimer *time.Timer
	readyCh        chan struct{}
	readyDone      bool
	readyErr       error
	readyWaiters   []chan struct{}
	closed         chan struct{}
}

// Spawn dials src and starts the handshake. It returns as soon as the
// transport is up; use AwaitReady or Ready to wait for readiness.
func Spawn(ctx context.Context, src Source, opt Options, dialer Dialer, logger *zap.Logger) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}
	if dialer == nil {
		dialer = &DefaultDialer{}
	}
	if logger == nil {
		logger = obslog.L()
	}

	s := &Session{
		id:        uuid.NewString(),
		source:    src,
		opt:       opt,
		state:     StateSpawning,
		readyCh:   make(chan struct{}),
		closed:    make(chan struct{}),
		startedAt: time.Now(),
	}
	s.logger = logger.With(zap.String("session_id", s.id), zap.String("source", src.String()))

	tr, err := dialer.Dial(ctx, src)
	if err != nil {
		s.logger.Warn("engine_spawn_failed", zap.Error(err))
		return nil, &SpawnError{Source: src.String(), Err: err}
	}
	s.transport = tr
	s.logger.Info("engine_spawn")

	s.mu.Lock()
	s.state = StateHandshaking
	timeout := opt.handshakeTimeout()
	s.handshakeTimer = time.AfterFunc(timeout, func() { s.onHandshakeTimeout(timeout) })
	go s.readLoop()
	err = s.sendLocked(EncodeHandshake())
	s.mu.Unlock()
	if err != nil {
		_ = s.Terminate()
		return nil, &SpawnError{Source: src.String(), Err: err}
	}
	return s, nil
}

func (s *Session) ID() string       { return s.id }
func (s *Session) Source() Source   { return s.source }
func (s *Session) Options() Options { return s.opt }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready is closed once the handshake either succeeded or failed.
func (s *Session) Ready() <-chan struct{} { return s.readyCh }

func (s *Session) AwaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestMove asks for the best move in the given position. Before the
// session is ready the request is queued; after that only one search may be
// outstanding and a second request fails with ErrSearchInFlight.
func (s *Session) RequestMove(boardToken string, depth int, cb MoveCallback) error {
	if cb == nil {
		return errors.New("nil move callback")
	}
	req := &searchRequest{token: boardToken, depth: depth, cb: cb}

	s.mu.Lock()
	var fire []func()
	switch s.state {
	case StateTerminated:
		s.mu.Unlock()
		return ErrSessionClosed
	case StateSearching:
		s.mu.Unlock()
		return ErrSearchInFlight
	case StateReady:
		fire = s.startLocked(req)
	default:
		s.queue = append(s.queue, req)
		s.logger.Debug("engine_request_queued", zap.String("state", s.state.String()), zap.Int("queued", len(s.queue)))
	}
	s.mu.Unlock()
	run(fire)
	return nil
}

// Search is the blocking form of RequestMove.
func (s *Session) Search(ctx context.Context, boardToken string, depth int) (domain.Move, error) {
	type result struct {
		mv  domain.Move
		err error
	}
	ch := make(chan result, 1)
	if err := s.RequestMove(boardToken, depth, func(mv domain.Move, err error) {
		ch <- result{mv: mv, err: err}
	}); err != nil {
		return domain.Move{}, err
	}
	select {
	case res := <-ch:
		return res.mv, res.err
	case <-ctx.Done():
		return domain.Move{}, ctx.Err()
	}
}

// NewGame sends ucinewgame and waits for the engine to confirm readiness.
func (s *Session) NewGame(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateTerminated:
		s.mu.Unlock()
		return ErrSessionClosed
	case StateSearching:
		s.mu.Unlock()
		return ErrSearchInFlight
	case StateReady:
	default:
		s.mu.Unlock()
		return fmt.Errorf("engine not ready (state=%s)", s.state)
	}
	w := make(chan struct{})
	err := s.sendLocked(EncodeNewGame())
	if err == nil {
		err = s.sendLocked(EncodeReadyCheck())
	}
	if err == nil {
		s.readyWaiters = append(s.readyWaiters, w)
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, s.opt.handshakeTimeout())
	defer cancel()
	select {
	case <-w:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	case <-readyCtx.Done():
		return fmt.Errorf("wait readyok: %w", readyCtx.Err())
	}
}

// Terminate is idempotent. Pending requests fail with ErrSessionClosed and
// any later engine output is dropped.
func (s *Session) Terminate() error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return nil
	}
	_ = s.sendLocked(EncodeQuit())
	fire := s.failLocked(ErrSessionClosed)
	s.mu.Unlock()

	run(fire)
	s.logger.Info("engine_terminated", zap.Duration("uptime", time.Since(s.startedAt)))
	if s.transport == nil {
		return nil
	}
	return s.transport.Close()
}

func (s *Session) readLoop() {
	for line := range s.transport.Lines() {
		s.handleLine(line)
	}
	s.onTransportClosed()
}

func (s *Session) handleLine(line string) {
	ev := DecodeLine(line)
	if ev.Err != nil {
		s.logger.Debug("engine_line_malformed", zap.String("line", ev.Raw), zap.Error(ev.Err))
	}

	var fire []func()
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}

	switch ev.Kind {
	case EventHandshakeAck:
		if s.state != StateHandshaking {
			break
		}
		s.state = StateConfiguringOptions
		if err := s.configureLocked(); err != nil {
			fire = s.failLocked(fmt.Errorf("%w: configure options: %v", ErrEngineExited, err))
			break
		}
		s.state = StateAwaitingReady
	case EventReadyAck:
		switch s.state {
		case StateAwaitingReady:
			if s.handshakeTimer != nil {
				s.handshakeTimer.Stop()
			}
			s.state = StateReady
			s.markReadyLocked(nil)
			s.logger.Info("engine_ready",
				zap.Duration("handshake", time.Since(s.startedAt)),
				zap.Int("skill_level", s.opt.SkillLevel),
				zap.Int("queued", len(s.queue)),
			)
			fire = s.startNextLocked()
		case StateReady, StateSearching:
			if len(s.readyWaiters) > 0 {
				close(s.readyWaiters[0])
				s.readyWaiters = s.readyWaiters[1:]
			}
		}
	case EventBestMove:
		if s.stale > 0 {
			s.stale--
			s.logger.Debug("engine_stale_reply_discarded", zap.String("line", ev.Raw))
			break
		}
		req := s.inflight
		if req == nil {
			s.logger.Debug("engine_unexpected_bestmove", zap.String("line", ev.Raw))
			break
		}
		s.finishLocked(req)
		s.logger.Debug("engine_bestmove",
			zap.String("move", EncodeMoveToken(ev.Move)),
			zap.Duration("took", time.Since(req.sentAt)),
		)
		mv := ev.Move
		fire = append(fire, func() { req.cb(mv, nil) })
		fire = append(fire, s.startNextLocked()...)
	case EventUnrecognized:
		if !isBestMoveLine(ev.Raw) {
			break
		}
		switch {
		case s.stale > 0:
			s.stale--
			s.logger.Debug("engine_stale_reply_discarded", zap.String("line", ev.Raw))
		case s.inflight != nil:
			s.inflight.answered = true
		}
	}
	s.mu.Unlock()
	run(fire)
}

func (s *Session) configureLocked() error {
	if err := s.sendLocked(EncodeSetOption(SkillLevelOption, strconv.Itoa(s.opt.SkillLevel))); err != nil {
		return err
	}
	names := make([]string, 0, len(s.opt.Extra))
	for name := range s.opt.Extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.sendLocked(EncodeSetOption(name, s.opt.Extra[name])); err != nil {
			return err
		}
	}
	return s.sendLocked(EncodeReadyCheck())
}

func (s *Session) onHandshakeTimeout(timeout time.Duration) {
	s.mu.Lock()
	if s.readyDone || s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	err := fmt.Errorf("%w after %s (state=%s)", ErrHandshakeTimeout, timeout, s.state)
	s.logger.Warn("engine_handshake_timeout", zap.Duration("timeout", timeout), zap.String("state", s.state.String()))
	fire := s.failLocked(err)
	s.mu.Unlock()

	run(fire)
	_ = s.transport.Close()
}

func (s *Session) onSearchTimeout(req *searchRequest, timeout time.Duration) {
	s.mu.Lock()
	if s.inflight != req {
		s.mu.Unlock()
		return
	}
	s.finishLocked(req)
	// Unless it already answered, the engine still owes a bestmove for this
	// search; stop it and drop that reply when it shows up.
	if !req.answered {
		s.stale++
		_ = s.sendLocked(EncodeStop())
	}
	s.logger.Warn("engine_search_timeout", zap.Duration("timeout", timeout), zap.Int("depth", req.depth))

	err := fmt.Errorf("%w after %s", ErrSearchTimeout, timeout)
	fire := []func(){func() { req.cb(domain.Move{}, err) }}
	fire = append(fire, s.startNextLocked()...)
	s.mu.Unlock()
	run(fire)
}

func (s *Session) onTransportClosed() {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	var err error
	if !s.readyDone {
		err = fmt.Errorf("%w before readyok (state=%s)", ErrEngineExited, s.state)
	} else {
		err = fmt.Errorf("%w: %w", ErrSessionClosed, ErrEngineExited)
	}
	s.logger.Warn("engine_exited", zap.String("state", s.state.String()))
	fire := s.failLocked(err)
	s.mu.Unlock()

	run(fire)
	_ = s.transport.Close()
}

func (s *Session) startLocked(req *searchRequest) []func() {
	pair := EncodePositionAndSearch(req.token, req.depth)
	err := s.sendLocked(pair[0])
	if err == nil {
		err = s.sendLocked(pair[1])
	}
	if err != nil {
		failErr := fmt.Errorf("%w: %v", ErrSessionClosed, err)
		return []func(){func() { req.cb(domain.Move{}, failErr) }}
	}
	s.state = StateSearching
	s.inflight = req
	req.sentAt = time.Now()
	timeout := s.opt.searchTimeout(req.depth)
	req.timer = time.AfterFunc(timeout, func() { s.onSearchTimeout(req, timeout) })
	s.logger.Debug("engine_search", zap.Int("depth", req.depth), zap.String("position", pair[0]))
	return nil
}

func (s *Session) startNextLocked() []func() {
	var fire []func()
	for s.state == StateReady && len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		fire = append(fire, s.startLocked(next)...)
	}
	return fire
}

func (s *Session) finishLocked(req *searchRequest) {
	if req.timer != nil {
		req.timer.Stop()
	}
	s.inflight = nil
	if s.state == StateSearching {
		s.state = StateReady
	}
}

// failLocked moves the session to Terminated and returns the callbacks that
// must run once the lock is released.
func (s *Session) failLocked(err error) []func() {
	s.state = StateTerminated
	if s.handshakeTimer != nil {
		s.handshakeTimer.Stop()
	}
	s.markReadyLocked(err)

	var fire []func()
	if req := s.inflight; req != nil {
		if req.timer != nil {
			req.timer.Stop()
		}
		s.inflight = nil
		reqErr := err
		if !errors.Is(reqErr, ErrSessionClosed) {
			reqErr = fmt.Errorf("%w: %w", ErrSessionClosed, err)
		}
		fire = append(fire, func() { req.cb(domain.Move{}, reqErr) })
	}
	for _, req := range s.queue {
		req := req
		fire = append(fire, func() { req.cb(domain.Move{}, err) })
	}
	s.queue = nil
	s.readyWaiters = nil
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return fire
}

func (s *Session) markReadyLocked(err error) {
	if s.readyDone {
		return
	}
	s.readyDone = true
	s.readyErr = err
	close(s.readyCh)
}

func (s *Session) sendLocked(line string) error {
	if s.transport == nil {
		return errTransportClosed
	}
	return s.transport.Send(line)
}

func isBestMoveLine(raw string) bool {
	fields := strings.Fields(raw)
	return len(fields) > 0 && fields[0] == "bestmove"
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
