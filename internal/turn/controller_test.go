package turn

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-duel/internal/chess/uci"
	"github.com/park285/cheese-duel/internal/domain"
	"github.com/park285/cheese-duel/internal/msgcat"
	"github.com/park285/cheese-duel/internal/rules"
)

type manualTimer struct {
	delay     time.Duration
	fn        func()
	cancelled bool
	fired     bool
}

// manualLoop runs posted work only when the test drains it.
type manualLoop struct {
	tasks  []func()
	timers []*manualTimer
}

func (l *manualLoop) Post(fn func()) { l.tasks = append(l.tasks, fn) }

func (l *manualLoop) After(d time.Duration, fn func()) func() {
	tm := &manualTimer{delay: d, fn: fn}
	l.timers = append(l.timers, tm)
	return func() { tm.cancelled = true }
}

func (l *manualLoop) drain() {
	for len(l.tasks) > 0 {
		fn := l.tasks[0]
		l.tasks = l.tasks[1:]
		fn()
	}
}

func (l *manualLoop) pendingTimers() []*manualTimer {
	var out []*manualTimer
	for _, tm := range l.timers {
		if !tm.cancelled && !tm.fired {
			out = append(out, tm)
		}
	}
	return out
}

func (l *manualLoop) fireTimers() {
	for _, tm := range l.pendingTimers() {
		tm.fired = true
		l.Post(tm.fn)
	}
	l.drain()
}

type engineRequest struct {
	token string
	depth int
	cb    func(domain.Move, error)
	done  bool
}

type fakeEngine struct {
	t          *testing.T
	requests   []*engineRequest
	terminated int
}

func (e *fakeEngine) RequestMove(token string, depth int, cb func(domain.Move, error)) error {
	if len(e.requests) > 0 && !e.requests[len(e.requests)-1].done {
		e.t.Errorf("second request while one is in flight")
		return uci.ErrSearchInFlight
	}
	e.requests = append(e.requests, &engineRequest{token: token, depth: depth, cb: cb})
	return nil
}

func (e *fakeEngine) Terminate() error {
	e.terminated++
	return nil
}

func (e *fakeEngine) reply(t *testing.T, token string, err error) {
	t.Helper()
	if len(e.requests) == 0 {
		t.Fatalf("no request to reply to")
	}
	req := e.requests[len(e.requests)-1]
	if req.done {
		t.Fatalf("request already answered")
	}
	req.done = true
	var mv domain.Move
	if token != "" {
		parsed, perr := uci.ParseMoveToken(token)
		if perr != nil {
			t.Fatalf("ParseMoveToken: %v", perr)
		}
		mv = parsed
	}
	req.cb(mv, err)
}

type selectionEvent struct {
	origin *domain.Square
	dests  []domain.Square
}

type recordingObserver struct {
	positions  []domain.Position
	statuses   []string
	selections []selectionEvent
	fatals     []string
}

func (o *recordingObserver) PositionChanged(pos domain.Position) { o.positions = append(o.positions, pos) }
func (o *recordingObserver) StatusChanged(text string)           { o.statuses = append(o.statuses, text) }
func (o *recordingObserver) FatalError(reason string)            { o.fatals = append(o.fatals, reason) }

func (o *recordingObserver) SelectionChanged(origin *domain.Square, dests []domain.Square) {
	o.selections = append(o.selections, selectionEvent{origin: origin, dests: dests})
}

func (o *recordingObserver) lastSelection(t *testing.T) selectionEvent {
	t.Helper()
	if len(o.selections) == 0 {
		t.Fatalf("no selection events")
	}
	return o.selections[len(o.selections)-1]
}

func (o *recordingObserver) lastStatus() string {
	if len(o.statuses) == 0 {
		return ""
	}
	return o.statuses[len(o.statuses)-1]
}

type harness struct {
	loop   *manualLoop
	board  *rules.Board
	engine *fakeEngine
	obs    *recordingObserver
	ctrl   *Controller
}

func newHarness(t *testing.T, board *rules.Board, cfg Config, withEngine bool) *harness {
	t.Helper()
	h := &harness{
		loop:   &manualLoop{},
		board:  board,
		engine: &fakeEngine{t: t},
		obs:    &recordingObserver{},
	}
	var engine Engine
	if withEngine {
		engine = h.engine
	}
	h.ctrl = NewController(h.loop, board, engine, h.obs, msgcat.MustDefault(), cfg)
	h.ctrl.Start()
	h.loop.drain()
	return h
}

func (h *harness) activate(t *testing.T, raw string) {
	t.Helper()
	sq, err := domain.ParseSquare(raw)
	if err != nil {
		t.Fatalf("ParseSquare: %v", err)
	}
	h.ctrl.ActivateSquare(sq)
	h.loop.drain()
}

func squares(list []domain.Square) string {
	parts := make([]string, 0, len(list))
	for _, sq := range list {
		parts = append(parts, sq.String())
	}
	return strings.Join(parts, ",")
}

func TestSelectAndMoveSchedulesEngineRequest(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.White}, true)
	if h.ctrl.Phase() != PhaseAwaitingHumanInput {
		t.Fatalf("phase = %s", h.ctrl.Phase())
	}

	h.activate(t, "e2")
	sel := h.obs.lastSelection(t)
	if sel.origin == nil || sel.origin.String() != "e2" || squares(sel.dests) != "e3,e4" {
		t.Fatalf("selection = %v %s", sel.origin, squares(sel.dests))
	}

	h.activate(t, "e4")
	if sel := h.obs.lastSelection(t); sel.origin != nil || len(sel.dests) != 0 {
		t.Fatalf("selection not cleared: %+v", sel)
	}
	if _, ok := h.ctrl.Selection().Origin(); ok {
		t.Fatalf("controller still has a selection")
	}
	last := h.obs.positions[len(h.obs.positions)-1]
	if p := last.PieceAt(domain.Square{File: 4, Rank: 3}); p.Kind != domain.Pawn || p.Side != domain.White {
		t.Fatalf("e4 = %+v", p)
	}
	if h.ctrl.Phase() != PhaseAwaitingEngineReply || h.ctrl.Mover() != MoverEngine {
		t.Fatalf("phase = %s", h.ctrl.Phase())
	}

	// the request waits for the hand-off delay
	if len(h.engine.requests) != 0 {
		t.Fatalf("engine asked before the hand-off delay")
	}
	timers := h.loop.pendingTimers()
	if len(timers) != 1 || timers[0].delay != DefaultHandoffDelay {
		t.Fatalf("timers = %+v", timers)
	}
	h.loop.fireTimers()
	if len(h.engine.requests) != 1 {
		t.Fatalf("requests = %d", len(h.engine.requests))
	}
	req := h.engine.requests[0]
	if req.token != h.board.BoardStateToken() || req.depth != DefaultSearchDepth {
		t.Fatalf("request = %q depth %d", req.token, req.depth)
	}
}

func TestEngineReplyFlipsMoverBack(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.White, SearchDepth: 8}, true)
	h.activate(t, "e2")
	h.activate(t, "e4")
	h.loop.fireTimers()

	h.engine.reply(t, "e7e5", nil)
	h.loop.drain()

	if h.ctrl.Phase() != PhaseAwaitingHumanInput || h.ctrl.Mover() != MoverHuman {
		t.Fatalf("phase = %s", h.ctrl.Phase())
	}
	if h.engine.requests[0].depth != 8 {
		t.Fatalf("depth = %d", h.engine.requests[0].depth)
	}
	snap := h.board.Snapshot()
	if snap.LastMove == nil || snap.LastMove.String() != "e7e5" {
		t.Fatalf("last move = %v", snap.LastMove)
	}
	if snap.SideToMove != domain.White {
		t.Fatalf("side to move = %s", snap.SideToMove)
	}
	if got := h.obs.lastStatus(); got != "" {
		t.Fatalf("status = %q", got)
	}
}

func TestTwoSearchTimeoutsAreFatal(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.White}, true)
	h.activate(t, "d2")
	h.activate(t, "d4")
	h.loop.fireTimers()

	h.engine.reply(t, "", uci.ErrSearchTimeout)
	h.loop.drain()
	if len(h.obs.fatals) != 0 {
		t.Fatalf("first timeout was fatal")
	}
	if h.ctrl.Phase() != PhaseAwaitingEngineReply {
		t.Fatalf("phase = %s", h.ctrl.Phase())
	}
	if !strings.Contains(h.obs.lastStatus(), "retrying 1/2") {
		t.Fatalf("status = %q", h.obs.lastStatus())
	}

	h.loop.fireTimers()
	if len(h.engine.requests) != 2 {
		t.Fatalf("requests = %d", len(h.engine.requests))
	}
	h.engine.reply(t, "", uci.ErrSearchTimeout)
	h.loop.drain()

	if len(h.obs.fatals) != 1 {
		t.Fatalf("fatals = %v", h.obs.fatals)
	}
	if h.ctrl.Phase() != PhaseEngineFailed {
		t.Fatalf("phase = %s", h.ctrl.Phase())
	}
	h.loop.fireTimers()
	if len(h.engine.requests) != 2 {
		t.Fatalf("third request issued")
	}
	if h.engine.terminated == 0 {
		t.Fatalf("engine not terminated")
	}

	// pieces can still be picked, nothing is played
	h.activate(t, "e2")
	if origin, ok := h.ctrl.Selection().Origin(); !ok || origin.String() != "e2" {
		t.Fatalf("selection after fatal error = %v %v", origin, ok)
	}
	h.activate(t, "e4")
	if _, ok := h.ctrl.Selection().Origin(); ok {
		t.Fatalf("selection not cleared")
	}
	if h.board.Snapshot().Ply != 1 || h.ctrl.Phase() != PhaseEngineFailed {
		t.Fatalf("board changed after fatal error")
	}
}

func TestSelectTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.White}, true)
	h.activate(t, "g1")
	first := squares(h.obs.lastSelection(t).dests)
	h.activate(t, "g1")
	second := squares(h.obs.lastSelection(t).dests)
	if first != second || first != "f3,h3" {
		t.Fatalf("first %q second %q", first, second)
	}
}

func TestRejectedDestinationReselectsOrClears(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.White}, true)
	h.activate(t, "e2")
	h.activate(t, "d2")
	sel := h.obs.lastSelection(t)
	if sel.origin == nil || sel.origin.String() != "d2" || squares(sel.dests) != "d3,d4" {
		t.Fatalf("reselection = %v %s", sel.origin, squares(sel.dests))
	}

	h.activate(t, "d5")
	if sel := h.obs.lastSelection(t); sel.origin != nil {
		t.Fatalf("selection not cleared")
	}
	if h.ctrl.Phase() != PhaseAwaitingHumanInput || h.board.SideToMove() != domain.White {
		t.Fatalf("rejected move changed the game")
	}

	// opponent pieces are not selectable
	h.activate(t, "e7")
	if _, ok := h.ctrl.Selection().Origin(); ok {
		t.Fatalf("selected an opponent piece")
	}
}

func TestInputIgnoredWhileEngineThinks(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.White}, true)
	h.activate(t, "e2")
	h.activate(t, "e4")
	before := len(h.obs.selections)
	h.activate(t, "d2")
	if len(h.obs.selections) != before {
		t.Fatalf("selection changed during engine turn")
	}
}

func TestEngineMovesFirst(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.Black}, true)
	if h.ctrl.Phase() != PhaseAwaitingEngineReply {
		t.Fatalf("phase = %s", h.ctrl.Phase())
	}
	if len(h.engine.requests) != 1 {
		t.Fatalf("requests = %d", len(h.engine.requests))
	}
	h.engine.reply(t, "e2e4", nil)
	h.loop.drain()
	h.activate(t, "e7")
	if sel := h.obs.lastSelection(t); sel.origin == nil || squares(sel.dests) != "e5,e6" {
		t.Fatalf("black selection = %+v", sel)
	}
}

func TestMateByHumanEndsGameWithoutEngineRequest(t *testing.T) {
	board, err := rules.FromFEN("6k1/5ppp/8/8/8/8/8/R5K1 w - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	h := newHarness(t, board, Config{HumanSide: domain.White}, true)
	h.activate(t, "a1")
	h.activate(t, "a8")

	if h.ctrl.Phase() != PhaseGameOver {
		t.Fatalf("phase = %s", h.ctrl.Phase())
	}
	if got := h.obs.lastStatus(); got != "Checkmate!" {
		t.Fatalf("status = %q", got)
	}
	h.loop.fireTimers()
	if len(h.engine.requests) != 0 {
		t.Fatalf("engine asked after mate")
	}
	if h.engine.terminated == 0 {
		t.Fatalf("session not terminated at game over")
	}
}

func TestCheckStatusText(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.White}, true)
	for _, pair := range [][2]string{{"e2", "e4"}} {
		h.activate(t, pair[0])
		h.activate(t, pair[1])
	}
	h.loop.fireTimers()
	h.engine.reply(t, "f7f6", nil)
	h.loop.drain()
	h.activate(t, "d1")
	h.activate(t, "h5")
	if got := h.obs.lastStatus(); got != "Check!" {
		t.Fatalf("status = %q", got)
	}
}

func TestLoadingEngineThenAttach(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.White}, false)
	h.activate(t, "e2")
	h.activate(t, "e4")
	h.loop.fireTimers()
	if got := h.obs.lastStatus(); got != "Loading engine…" {
		t.Fatalf("status = %q", got)
	}

	h.ctrl.AttachEngine("", h.engine)
	h.loop.drain()
	if len(h.engine.requests) != 1 {
		t.Fatalf("requests = %d", len(h.engine.requests))
	}
}

func TestNoEngineAvailableIsFatal(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.Black}, false)
	h.ctrl.EngineUnavailable("", &uci.NoEngineError{})
	h.loop.drain()
	if len(h.obs.fatals) != 1 || !strings.HasPrefix(h.obs.fatals[0], "No engine available") {
		t.Fatalf("fatals = %v", h.obs.fatals)
	}
	if h.ctrl.Phase() != PhaseEngineFailed {
		t.Fatalf("phase = %s", h.ctrl.Phase())
	}
}

func TestSynchronousRequestErrorCountsAsFailure(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.White, MaxEngineFailures: 1}, false)
	h.ctrl.AttachEngine("", closedEngine{})
	h.loop.drain()
	h.activate(t, "e2")
	h.activate(t, "e4")
	h.loop.fireTimers()
	if len(h.obs.fatals) != 1 || h.ctrl.Phase() != PhaseEngineFailed {
		t.Fatalf("fatals = %v phase = %s", h.obs.fatals, h.ctrl.Phase())
	}
}

type closedEngine struct{}

func (closedEngine) RequestMove(string, int, func(domain.Move, error)) error {
	return uci.ErrSessionClosed
}

func (closedEngine) Terminate() error { return nil }

func TestRestartDropsStaleReply(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.White}, true)
	h.activate(t, "e2")
	h.activate(t, "e4")
	h.loop.fireTimers()
	old := h.engine
	fresh := &fakeEngine{t: t}

	h.ctrl.Restart(fresh)
	h.loop.drain()
	if old.terminated == 0 {
		t.Fatalf("previous session not terminated")
	}
	old.reply(t, "e7e5", nil)
	h.loop.drain()
	if h.board.Snapshot().Ply != 0 {
		t.Fatalf("stale reply applied to the new game")
	}
	if h.ctrl.Phase() != PhaseAwaitingHumanInput {
		t.Fatalf("phase = %s", h.ctrl.Phase())
	}
}

func TestUnknownEngineErrorStillRetries(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.White, MaxEngineFailures: 3}, true)
	h.activate(t, "e2")
	h.activate(t, "e4")
	h.loop.fireTimers()
	// an illegal engine move is treated like a failed search
	h.engine.reply(t, "e2e4", nil)
	h.loop.drain()
	if h.ctrl.Phase() != PhaseAwaitingEngineReply || len(h.obs.fatals) != 0 {
		t.Fatalf("phase = %s fatals = %v", h.ctrl.Phase(), h.obs.fatals)
	}
	h.loop.fireTimers()
	h.engine.reply(t, "", errors.New("boom"))
	h.loop.drain()
	h.loop.fireTimers()
	if len(h.engine.requests) != 3 {
		t.Fatalf("requests = %d", len(h.engine.requests))
	}
}

func TestHandoffDelayDefaults(t *testing.T) {
	if got := (Config{}).withDefaults().HandoffDelay; got != DefaultHandoffDelay {
		t.Fatalf("zero delay = %s", got)
	}
	if got := (Config{HandoffDelay: -1}).withDefaults().HandoffDelay; got != 0 {
		t.Fatalf("negative delay = %s", got)
	}
	if got := (Config{HandoffDelay: 50 * time.Millisecond}).withDefaults().HandoffDelay; got != 50*time.Millisecond {
		t.Fatalf("explicit delay = %s", got)
	}
}

func TestEngineUnavailableKeepsBoardInspectable(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.White}, false)
	h.ctrl.EngineUnavailable("", &uci.NoEngineError{})
	h.loop.drain()

	h.activate(t, "e2")
	sel := h.obs.lastSelection(t)
	if sel.origin == nil || sel.origin.String() != "e2" || squares(sel.dests) != "e3,e4" {
		t.Fatalf("selection = %v %s", sel.origin, squares(sel.dests))
	}
	h.activate(t, "g1")
	if sel := h.obs.lastSelection(t); sel.origin == nil || squares(sel.dests) != "f3,h3" {
		t.Fatalf("reselection = %+v", sel)
	}

	h.activate(t, "f3")
	if sel := h.obs.lastSelection(t); sel.origin != nil {
		t.Fatalf("selection not cleared: %+v", sel)
	}
	if h.board.Snapshot().Ply != 0 {
		t.Fatalf("a move was played without an engine")
	}

	h.ctrl.PlayMove(domain.Square{File: 4, Rank: 1}, domain.Square{File: 4, Rank: 3}, domain.NoPieceKind)
	h.loop.drain()
	if h.board.Snapshot().Ply != 0 || h.ctrl.Phase() != PhaseEngineFailed {
		t.Fatalf("PlayMove went through after engine failure")
	}
}

func TestAttachEngineTerminatesReplacedEngine(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.White}, true)
	second := &fakeEngine{t: t}
	h.ctrl.AttachEngine("", second)
	h.loop.drain()
	if h.engine.terminated != 1 {
		t.Fatalf("replaced engine terminated %d times", h.engine.terminated)
	}

	h.ctrl.Close()
	h.loop.drain()
	if second.terminated != 1 || h.engine.terminated != 1 {
		t.Fatalf("terminated: first=%d second=%d", h.engine.terminated, second.terminated)
	}
}

func TestAttachEngineTakesOverPendingRequest(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.White}, true)
	h.activate(t, "e2")
	h.activate(t, "e4")
	h.loop.fireTimers()
	if len(h.engine.requests) != 1 {
		t.Fatalf("requests = %d", len(h.engine.requests))
	}

	second := &fakeEngine{t: t}
	h.ctrl.AttachEngine("", second)
	h.loop.drain()
	if len(second.requests) != 1 {
		t.Fatalf("new engine requests = %d", len(second.requests))
	}

	h.engine.reply(t, "e7e5", nil)
	h.loop.drain()
	if h.board.Snapshot().Ply != 1 {
		t.Fatalf("reply from the replaced engine was applied")
	}
	second.reply(t, "c7c5", nil)
	h.loop.drain()
	if last := h.board.Snapshot().LastMove; last == nil || last.String() != "c7c5" {
		t.Fatalf("last move = %v", last)
	}
}

func TestEngineForPreviousGameIsDropped(t *testing.T) {
	h := newHarness(t, rules.New(), Config{HumanSide: domain.Black}, false)
	oldGame := h.ctrl.GameID()
	h.ctrl.Restart(nil)
	h.loop.drain()
	if h.ctrl.GameID() == oldGame {
		t.Fatalf("restart kept the game id")
	}

	late := &fakeEngine{t: t}
	h.ctrl.AttachEngine(oldGame, late)
	h.ctrl.EngineUnavailable(oldGame, errors.New("late failure"))
	h.loop.drain()
	if late.terminated != 1 || len(late.requests) != 0 {
		t.Fatalf("late engine: terminated=%d requests=%d", late.terminated, len(late.requests))
	}
	if len(h.obs.fatals) != 0 || h.ctrl.Phase() != PhaseAwaitingEngineReply {
		t.Fatalf("phase = %s fatals = %v", h.ctrl.Phase(), h.obs.fatals)
	}

	h.ctrl.AttachEngine(h.ctrl.GameID(), h.engine)
	h.loop.drain()
	if len(h.engine.requests) != 1 {
		t.Fatalf("current engine requests = %d", len(h.engine.requests))
	}
}

func TestPlayMoveHonoursPromotion(t *testing.T) {
	e7 := domain.Square{File: 4, Rank: 6}
	e8 := domain.Square{File: 4, Rank: 7}
	cases := map[string]struct {
		promotion domain.PieceKind
		want      domain.PieceKind
	}{
		"knight":  {domain.Knight, domain.Knight},
		"rook":    {domain.Rook, domain.Rook},
		"default": {domain.NoPieceKind, domain.Queen},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			board, err := rules.FromFEN("8/4P3/8/8/8/8/k7/4K3 w - - 0 1")
			if err != nil {
				t.Fatalf("FromFEN: %v", err)
			}
			h := newHarness(t, board, Config{HumanSide: domain.White}, true)
			h.ctrl.PlayMove(e7, e8, tc.promotion)
			h.loop.drain()
			if p := board.PieceAt(e8); p.Kind != tc.want || p.Side != domain.White {
				t.Fatalf("e8 = %+v", p)
			}
		})
	}
}
