package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/park285/cheese-duel/internal/chess/movecache"
	"github.com/park285/cheese-duel/internal/chess/uci"
	appcfg "github.com/park285/cheese-duel/internal/config"
	"github.com/park285/cheese-duel/internal/domain"
	"github.com/park285/cheese-duel/internal/msgcat"
	"github.com/park285/cheese-duel/internal/obslog"
	"github.com/park285/cheese-duel/internal/render"
	"github.com/park285/cheese-duel/internal/rules"
	"github.com/park285/cheese-duel/internal/turn"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.Named("main")
	defer func() { _ = obslog.L().Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	texts, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		log.Fatalf("messages error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          texts.Text("cli.prompt", map[string]any{"Side": cfg.Side().String()}),
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		log.Fatalf("readline error: %v", err)
	}
	defer rl.Close()

	board := render.NewTerminal(rl.Stdout(), cfg.Side(), render.ColorSupported(os.Stdout))
	observers := turn.Observers{board}
	var snapshot *render.PNGSink
	if path := strings.TrimSpace(cfg.SnapshotPNG); path != "" {
		snapshot = render.NewPNGSink(path, cfg.Side())
		observers = append(observers, snapshot)
	}

	var rdb *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		rdb, err = movecache.Connect(cctx, cfg.RedisURL)
		cancel()
		if err != nil {
			logger.Warn("movecache_disabled", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	loop := turn.NewEventLoop(0)
	go func() { _ = loop.Run(ctx) }()

	handoff := cfg.HandoffDelay
	if handoff == 0 {
		// an explicit zero in the environment means no delay
		handoff = -1
	}
	ctrl := turn.NewController(loop, rules.New(), nil, observers, texts, turn.Config{
		HumanSide:         cfg.Side(),
		SearchDepth:       cfg.SearchDepth,
		HandoffDelay:      handoff,
		MaxEngineFailures: cfg.MaxEngineFailures,
	})

	engines := &engineStarter{
		loader:  uci.NewLoader(&uci.DefaultDialer{Fetcher: uci.NewFetcher(cfg.DownloadDir)}, obslog.Named("uci")),
		cfg:     cfg,
		rdb:     rdb,
		loop:    loop,
		ctrl:    ctrl,
		logger:  logger,
		baseCtx: ctx,
	}

	ctrl.Start()
	engines.load()

	sh := &shell{
		rl:       rl,
		out:      rl.Stdout(),
		texts:    texts,
		loop:     loop,
		ctrl:     ctrl,
		board:    board,
		snapshot: snapshot,
		engines:  engines,
	}
	sh.run(ctx)

	ctrl.Close()
	loop.Do(func() {})
	loop.Stop()
}

func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cheese-duel_history")
}

// engineStarter loads a session per game. Sessions are tagged with the game
// they were loaded for, so the controller drops them once that game is gone.
type engineStarter struct {
	loader  *uci.Loader
	cfg     *appcfg.AppConfig
	rdb     *redis.Client
	loop    *turn.EventLoop
	ctrl    *turn.Controller
	logger  *zap.Logger
	baseCtx context.Context
}

func (e *engineStarter) load() {
	var gameID string
	e.loop.Do(func() { gameID = e.ctrl.GameID() })

	e.loader.LoadAsync(e.baseCtx, e.cfg.Sources, e.cfg.EngineOptions(), func(s *uci.Session, err error) {
		if err != nil {
			e.ctrl.EngineUnavailable(gameID, err)
			return
		}
		if err := s.NewGame(e.baseCtx); err != nil {
			_ = s.Terminate()
			e.ctrl.EngineUnavailable(gameID, err)
			return
		}
		e.logger.Info("engine_attached",
			zap.String("game_id", gameID),
			zap.String("source", s.Source().String()),
			zap.String("session_id", s.ID()),
		)
		e.ctrl.AttachEngine(gameID, e.wrap(s))
	})
}

func (e *engineStarter) wrap(s *uci.Session) turn.Engine {
	if e.rdb == nil {
		return s
	}
	return movecache.Wrap(s, movecache.NewStore(e.rdb, "", 0), e.cfg.Skill())
}

func (e *engineStarter) restart() {
	e.ctrl.Restart(nil)
	e.load()
}

type commandKind int

const (
	cmdNone commandKind = iota
	cmdSquare
	cmdMove
	cmdNew
	cmdBoard
	cmdSave
	cmdHelp
	cmdQuit
	cmdUnknown
)

type command struct {
	kind      commandKind
	from, to  domain.Square
	promotion domain.PieceKind
}

func parseCommand(line string) command {
	v := strings.ToLower(strings.TrimSpace(line))
	switch v {
	case "":
		return command{kind: cmdNone}
	case "new", "restart":
		return command{kind: cmdNew}
	case "board", "b":
		return command{kind: cmdBoard}
	case "save":
		return command{kind: cmdSave}
	case "help", "h", "?":
		return command{kind: cmdHelp}
	case "quit", "exit", "q":
		return command{kind: cmdQuit}
	}

	v = strings.ReplaceAll(strings.ReplaceAll(v, "-", ""), " ", "")
	switch len(v) {
	case 2:
		if sq, err := domain.ParseSquare(v); err == nil {
			return command{kind: cmdSquare, from: sq}
		}
	case 4, 5:
		from, ferr := domain.ParseSquare(v[:2])
		to, terr := domain.ParseSquare(v[2:4])
		if ferr != nil || terr != nil {
			break
		}
		cmd := command{kind: cmdMove, from: from, to: to}
		if len(v) == 5 {
			kind, ok := domain.PieceKindFromLetter(v[4])
			if !ok || kind == domain.King || kind == domain.Pawn {
				break
			}
			cmd.promotion = kind
		}
		return cmd
	}
	return command{kind: cmdUnknown}
}

type shell struct {
	rl       *readline.Instance
	out      io.Writer
	texts    *msgcat.Catalog
	loop     *turn.EventLoop
	ctrl     *turn.Controller
	board    *render.Terminal
	snapshot *render.PNGSink
	engines  *engineStarter
}

func (s *shell) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		line, err := s.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return
		}
		if !s.handle(line) {
			return
		}
	}
}

// handle executes one input line and reports whether the shell keeps going.
func (s *shell) handle(line string) bool {
	cmd := parseCommand(line)
	switch cmd.kind {
	case cmdNone:
	case cmdQuit:
		return false
	case cmdHelp:
		fmt.Fprint(s.out, s.texts.Text("cli.help", nil))
	case cmdBoard:
		s.board.Redraw()
	case cmdNew:
		s.engines.restart()
		fmt.Fprintln(s.out, s.texts.Text("status.new_game", map[string]any{"Side": s.engines.cfg.Side().String()}))
	case cmdSave:
		if s.snapshot == nil {
			fmt.Fprintln(s.out, s.texts.Text("cli.unknown", map[string]any{"Input": strings.TrimSpace(line)}))
			break
		}
		if err := s.snapshot.Flush(); err != nil {
			fmt.Fprintln(s.out, err)
			break
		}
		fmt.Fprintln(s.out, s.texts.Text("cli.saved_png", map[string]any{"Path": s.snapshot.Path()}))
	case cmdSquare, cmdMove:
		if s.enginesTurn() {
			fmt.Fprintln(s.out, s.texts.Text("cli.not_your_turn", nil))
			break
		}
		if cmd.kind == cmdSquare {
			s.ctrl.ActivateSquare(cmd.from)
		} else {
			s.ctrl.PlayMove(cmd.from, cmd.to, cmd.promotion)
		}
	default:
		fmt.Fprintln(s.out, s.texts.Text("cli.unknown", map[string]any{"Input": strings.TrimSpace(line)}))
	}
	return true
}

func (s *shell) enginesTurn() bool {
	var phase turn.Phase
	s.loop.Do(func() { phase = s.ctrl.Phase() })
	return phase == turn.PhaseAwaitingEngineReply
}
