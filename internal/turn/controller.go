// Package turn coordinates human input, the rules and the engine session for
// one game. All controller state lives on a single event loop.
package turn

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-duel/internal/domain"
	"github.com/park285/cheese-duel/internal/obslog"
	"go.uber.org/zap"
)

type Phase int

const (
	PhaseAwaitingHumanInput Phase = iota
	PhaseAwaitingEngineReply
	PhaseGameOver
	PhaseEngineFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingHumanInput:
		return "awaiting_human_input"
	case PhaseAwaitingEngineReply:
		return "awaiting_engine_reply"
	case PhaseGameOver:
		return "game_over"
	case PhaseEngineFailed:
		return "engine_failed"
	default:
		return "unknown"
	}
}

type Mover int

const (
	MoverHuman Mover = iota
	MoverEngine
)

func (m Mover) String() string {
	if m == MoverEngine {
		return "engine"
	}
	return "human"
}

var ErrEngineMoveRejected = errors.New("engine move rejected by rules")

// Rules owns the board. The controller never mutates it except through
// AttemptMove, Apply and Reset.
type Rules interface {
	LegalDestinations(origin domain.Square) []domain.Square
	AttemptMove(from, to domain.Square, promotion domain.PieceKind) (domain.Move, error)
	Apply(mv domain.Move) error
	BoardStateToken() string
	Status() domain.Status
	PieceOwner(sq domain.Square) domain.Side
	SideToMove() domain.Side
	Snapshot() domain.Position
	Reset()
}

// Engine is the move source for the engine side. The callback may run on any
// goroutine and is invoked exactly once per accepted request.
type Engine interface {
	RequestMove(boardToken string, depth int, cb func(domain.Move, error)) error
	Terminate() error
}

// Observer receives UI events. Calls are made from the loop goroutine.
type Observer interface {
	PositionChanged(pos domain.Position)
	StatusChanged(text string)
	SelectionChanged(origin *domain.Square, destinations []domain.Square)
	FatalError(reason string)
}

// Texts renders user-visible strings by key.
type Texts interface {
	Text(key string, data map[string]any) string
}

type Config struct {
	HumanSide   domain.Side
	SearchDepth int
	// HandoffDelay of zero means DefaultHandoffDelay; a negative value hands
	// over immediately.
	HandoffDelay      time.Duration
	MaxEngineFailures int
}

const (
	DefaultSearchDepth       = 15
	DefaultHandoffDelay      = 200 * time.Millisecond
	DefaultMaxEngineFailures = 2
)

func (c Config) withDefaults() Config {
	if c.HumanSide == domain.NoSide {
		c.HumanSide = domain.White
	}
	if c.SearchDepth <= 0 {
		c.SearchDepth = DefaultSearchDepth
	}
	switch {
	case c.HandoffDelay == 0:
		c.HandoffDelay = DefaultHandoffDelay
	case c.HandoffDelay < 0:
		c.HandoffDelay = 0
	}
	if c.MaxEngineFailures <= 0 {
		c.MaxEngineFailures = DefaultMaxEngineFailures
	}
	return c
}

type Controller struct {
	loop     Loop
	rules    Rules
	observer Observer
	texts    Texts
	cfg      Config
	logger   *zap.Logger

	gameID        string
	engine        Engine
	phase         Phase
	selection     Selection
	failures      int
	seq           uint64
	inflight      bool
	waitingEngine bool
	cancelPending func()
	closed        bool
}

// NewController wires a game. engine may be nil while it is still loading;
// hand it over later with AttachEngine.
func NewController(loop Loop, rules Rules, engine Engine, observer Observer, texts Texts, cfg Config) *Controller {
	return &Controller{
		loop:     loop,
		rules:    rules,
		engine:   engine,
		observer: observer,
		texts:    texts,
		cfg:      cfg.withDefaults(),
		logger:   obslog.L().Named("turn"),
		gameID:   uuid.NewString(),
	}
}

// The accessors below must be called from the loop goroutine.

func (c *Controller) GameID() string         { return c.gameID }
func (c *Controller) Phase() Phase           { return c.phase }
func (c *Controller) HumanSide() domain.Side { return c.cfg.HumanSide }
func (c *Controller) Selection() Selection   { return c.selection }

func (c *Controller) Mover() Mover {
	if c.phase == PhaseAwaitingEngineReply {
		return MoverEngine
	}
	return MoverHuman
}

func (c *Controller) Start() {
	c.loop.Post(c.start)
}

func (c *Controller) ActivateSquare(sq domain.Square) {
	c.loop.Post(func() { c.activate(sq, domain.Queen) })
}

// PlayMove selects from and activates to in one step. promotion picks the
// piece for a pawn reaching the last rank; NoPieceKind means a queen.
func (c *Controller) PlayMove(from, to domain.Square, promotion domain.PieceKind) {
	if promotion == domain.NoPieceKind {
		promotion = domain.Queen
	}
	c.loop.Post(func() {
		if c.phase != PhaseAwaitingHumanInput {
			return
		}
		if c.rules.PieceOwner(from) != c.cfg.HumanSide {
			return
		}
		c.selectSquare(from)
		c.activate(to, promotion)
	})
}

// AttachEngine hands over an engine loaded for gameID ("" for whatever game
// is current), requesting a move right away when the engine side is waiting
// for it. An engine loaded for an earlier game is terminated instead, and an
// engine it replaces is terminated too.
func (c *Controller) AttachEngine(gameID string, engine Engine) {
	c.loop.Post(func() {
		if c.closed || !c.current(gameID) {
			_ = engine.Terminate()
			return
		}
		if c.engine != nil && c.engine != engine {
			// a reply from the old engine no longer counts
			if c.inflight {
				c.seq++
				c.inflight = false
				c.waitingEngine = true
			}
			c.terminateEngine()
		}
		c.engine = engine
		if c.waitingEngine {
			c.waitingEngine = false
			c.requestEngineMove()
		}
	})
}

// EngineUnavailable reports that no engine could be loaded for gameID. The
// board stays inspectable but the engine side never moves.
func (c *Controller) EngineUnavailable(gameID string, err error) {
	c.loop.Post(func() {
		if c.closed || !c.current(gameID) {
			return
		}
		c.logger.Error("turn_no_engine", zap.String("game_id", c.gameID), zap.Error(err))
		c.cancelTimer()
		c.terminateEngine()
		c.engine = nil
		c.seq++
		c.inflight = false
		c.phase = PhaseEngineFailed
		c.waitingEngine = false
		c.observer.FatalError(c.text("fatal.no_engine", map[string]any{"Reason": reason(err)}))
	})
}

// Restart resets the board and starts a new game with engine, which may be
// nil while a new session is loading. The previous session is terminated.
func (c *Controller) Restart(engine Engine) {
	c.loop.Post(func() {
		c.cancelTimer()
		c.terminateEngine()
		c.seq++
		c.inflight = false
		c.waitingEngine = false
		c.failures = 0
		c.selection.Clear()
		c.rules.Reset()
		c.engine = engine
		c.gameID = uuid.NewString()
		c.closed = false
		c.start()
	})
}

func (c *Controller) current(gameID string) bool {
	return gameID == "" || gameID == c.gameID
}

func (c *Controller) Close() {
	c.loop.Post(func() {
		c.cancelTimer()
		c.terminateEngine()
		c.seq++
		c.closed = true
	})
}

func (c *Controller) start() {
	c.logger.Info("turn_game_start",
		zap.String("game_id", c.gameID),
		zap.String("human_side", c.cfg.HumanSide.String()),
		zap.Int("depth", c.cfg.SearchDepth),
	)
	c.observer.SelectionChanged(nil, nil)
	c.publishPosition()
	st := c.rules.Status()
	c.publishStatus(st)
	switch {
	case st.GameOver():
		c.finish()
	case c.rules.SideToMove() == c.cfg.HumanSide:
		c.phase = PhaseAwaitingHumanInput
	default:
		c.phase = PhaseAwaitingEngineReply
		c.requestEngineMove()
	}
}

func (c *Controller) activate(sq domain.Square, promotion domain.PieceKind) {
	if !sq.Valid() {
		return
	}
	switch c.phase {
	case PhaseAwaitingHumanInput:
	case PhaseEngineFailed:
		// nothing can be played any more, but pieces can still be inspected
		c.inspect(sq)
		return
	default:
		return
	}
	origin, ok := c.selection.Origin()
	if !ok {
		if c.rules.PieceOwner(sq) == c.cfg.HumanSide {
			c.selectSquare(sq)
		}
		return
	}

	// legality is re-read from the rules, not from the highlighted set
	for _, dest := range c.rules.LegalDestinations(origin) {
		if dest != sq {
			continue
		}
		mv, err := c.rules.AttemptMove(origin, sq, promotion)
		if err == nil {
			c.afterHumanMove(mv)
			return
		}
		c.logger.Debug("turn_move_rejected", zap.String("from", origin.String()), zap.String("to", sq.String()), zap.Error(err))
		break
	}

	if c.rules.PieceOwner(sq) == c.cfg.HumanSide {
		c.selectSquare(sq)
		return
	}
	c.selection.Clear()
	c.observer.SelectionChanged(nil, nil)
}

func (c *Controller) inspect(sq domain.Square) {
	if c.rules.PieceOwner(sq) == c.cfg.HumanSide {
		c.selectSquare(sq)
		return
	}
	if _, ok := c.selection.Origin(); ok {
		c.selection.Clear()
		c.observer.SelectionChanged(nil, nil)
	}
}

func (c *Controller) selectSquare(sq domain.Square) {
	c.selection.Select(sq, c.rules)
	origin := sq
	c.observer.SelectionChanged(&origin, c.selection.Destinations())
}

func (c *Controller) afterHumanMove(mv domain.Move) {
	c.logger.Info("turn_move", zap.String("game_id", c.gameID), zap.String("mover", MoverHuman.String()), zap.String("move", mv.String()))
	c.selection.Clear()
	c.observer.SelectionChanged(nil, nil)
	c.publishPosition()
	st := c.rules.Status()
	c.publishStatus(st)
	if st.GameOver() {
		c.finish()
		return
	}
	c.phase = PhaseAwaitingEngineReply
	c.schedule(c.cfg.HandoffDelay, c.requestEngineMove)
}

func (c *Controller) requestEngineMove() {
	c.cancelPending = nil
	if c.closed || c.phase != PhaseAwaitingEngineReply || c.inflight {
		return
	}
	if c.engine == nil {
		c.waitingEngine = true
		c.observer.StatusChanged(c.text("status.loading", nil))
		return
	}

	c.seq++
	seq := c.seq
	c.inflight = true
	token := c.rules.BoardStateToken()
	c.logger.Debug("turn_engine_request", zap.String("game_id", c.gameID), zap.Uint64("seq", seq), zap.String("position", token))
	err := c.engine.RequestMove(token, c.cfg.SearchDepth, func(mv domain.Move, err error) {
		c.loop.Post(func() { c.onEngineReply(seq, mv, err) })
	})
	if err != nil {
		c.inflight = false
		c.onEngineFailure(err)
	}
}

func (c *Controller) onEngineReply(seq uint64, mv domain.Move, err error) {
	if seq != c.seq || c.phase != PhaseAwaitingEngineReply {
		return
	}
	c.inflight = false
	if err != nil {
		c.onEngineFailure(err)
		return
	}
	if err := c.rules.Apply(mv); err != nil {
		c.onEngineFailure(fmt.Errorf("%w: %s: %v", ErrEngineMoveRejected, mv, err))
		return
	}
	c.failures = 0
	c.logger.Info("turn_move", zap.String("game_id", c.gameID), zap.String("mover", MoverEngine.String()), zap.String("move", mv.String()))
	c.publishPosition()
	st := c.rules.Status()
	c.publishStatus(st)
	if st.GameOver() {
		c.finish()
		return
	}
	c.phase = PhaseAwaitingHumanInput
}

func (c *Controller) onEngineFailure(err error) {
	c.failures++
	c.logger.Warn("turn_engine_failure",
		zap.String("game_id", c.gameID),
		zap.Int("attempt", c.failures),
		zap.Int("max", c.cfg.MaxEngineFailures),
		zap.Error(err),
	)
	if c.failures >= c.cfg.MaxEngineFailures {
		c.phase = PhaseEngineFailed
		c.terminateEngine()
		c.observer.FatalError(c.text("fatal.engine_failed", map[string]any{
			"Attempts": c.failures,
			"Reason":   reason(err),
		}))
		return
	}
	c.observer.StatusChanged(c.text("status.retry", map[string]any{
		"Reason":  reason(err),
		"Attempt": c.failures,
		"Max":     c.cfg.MaxEngineFailures,
	}))
	c.schedule(c.cfg.HandoffDelay, c.requestEngineMove)
}

func (c *Controller) finish() {
	c.phase = PhaseGameOver
	c.cancelTimer()
	c.logger.Info("turn_game_over", zap.String("game_id", c.gameID), zap.String("status", c.rules.Status().String()))
	c.terminateEngine()
}

func (c *Controller) schedule(d time.Duration, fn func()) {
	c.cancelTimer()
	c.cancelPending = c.loop.After(d, fn)
}

func (c *Controller) cancelTimer() {
	if c.cancelPending != nil {
		c.cancelPending()
		c.cancelPending = nil
	}
}

func (c *Controller) terminateEngine() {
	if c.engine == nil {
		return
	}
	if err := c.engine.Terminate(); err != nil {
		c.logger.Debug("turn_engine_terminate", zap.Error(err))
	}
}

func (c *Controller) publishPosition() {
	c.observer.PositionChanged(c.rules.Snapshot())
}

func (c *Controller) publishStatus(st domain.Status) {
	if st == domain.StatusNone {
		c.observer.StatusChanged("")
		return
	}
	c.observer.StatusChanged(c.text("status."+st.String(), nil))
}

func (c *Controller) text(key string, data map[string]any) string {
	if c.texts == nil {
		return key
	}
	return c.texts.Text(key, data)
}

func reason(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
