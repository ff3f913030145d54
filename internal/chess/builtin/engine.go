// Package builtin is a small in-process UCI engine used as the last fallback
// when no external engine can be started.
package builtin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-duel/internal/chess/openingbook"
	"github.com/park285/cheese-duel/internal/chess/uci"
	"github.com/park285/cheese-duel/internal/obslog"
	"github.com/park285/cheese-duel/internal/rules"
	"go.uber.org/zap"
)

// BindingName is the name the engine is registered under.
const BindingName = "builtin"

// BookFileOption points the engine at a Polyglot opening book.
const BookFileOption = "BookFile"

func init() {
	uci.Register(BindingName, Run)
}

type Engine struct {
	skill int
	board *rules.Board
	rand  *rand.Rand
	book  *openingbook.Book
}

func New(seed int64) *Engine {
	return &Engine{
		skill: 20,
		board: rules.New(),
		rand:  rand.New(rand.NewSource(seed)),
	}
}

// Run speaks UCI over in/out until quit, EOF or ctx cancellation.
func Run(ctx context.Context, in io.Reader, out io.Writer) error {
	e := New(time.Now().UnixNano())
	scanner := bufio.NewScanner(in)
	w := bufio.NewWriter(out)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		replies, quit := e.Handle(scanner.Text())
		for _, line := range replies {
			if _, err := w.WriteString(line + "\n"); err != nil {
				return err
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

// Handle processes one command and returns the lines to emit.
func (e *Engine) Handle(line string) ([]string, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, false
	}
	switch fields[0] {
	case "uci":
		return []string{
			"id name cheese-duel builtin",
			"id author cheese-duel",
			"option name Skill Level type spin default 20 min 0 max 20",
			"option name BookFile type string default <empty>",
			"uciok",
		}, false
	case "isready":
		return []string{"readyok"}, false
	case "setoption":
		e.setOption(line)
	case "ucinewgame":
		e.board = rules.New()
	case "position":
		if err := e.setPosition(fields[1:]); err != nil {
			obslog.L().Debug("builtin_position_invalid", zap.String("line", line), zap.Error(err))
			return []string{"info string " + err.Error()}, false
		}
	case "go":
		return e.search(fields[1:]), false
	case "quit":
		return nil, true
	}
	return nil, false
}

func (e *Engine) setOption(line string) {
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "setoption"))
	rest = strings.TrimSpace(strings.TrimPrefix(rest, "name"))
	name, value, ok := strings.Cut(rest, " value ")
	if !ok {
		return
	}
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if strings.EqualFold(name, BookFileOption) {
		e.setBook(value)
		return
	}
	if !strings.EqualFold(name, uci.SkillLevelOption) {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return
	}
	if n < 0 {
		n = 0
	}
	if n > 20 {
		n = 20
	}
	e.skill = n
}

func (e *Engine) setBook(path string) {
	if path == "" || path == "<empty>" {
		e.book = nil
		return
	}
	book, err := openingbook.Open(path)
	if err != nil {
		obslog.L().Warn("builtin_book_unavailable", zap.String("path", path), zap.Error(err))
		e.book = nil
		return
	}
	e.book = book
}

func (e *Engine) setPosition(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("position: missing arguments")
	}
	var (
		board *rules.Board
		rest  []string
		err   error
	)
	switch args[0] {
	case "startpos":
		board = rules.New()
		rest = args[1:]
	case "fen":
		end := len(args)
		for i, a := range args {
			if a == "moves" {
				end = i
				break
			}
		}
		board, err = rules.FromFEN(strings.Join(args[1:end], " "))
		if err != nil {
			return err
		}
		rest = args[end:]
	default:
		return fmt.Errorf("position: unknown form %q", args[0])
	}
	if len(rest) > 0 && rest[0] == "moves" {
		for _, tok := range rest[1:] {
			mv, err := uci.ParseMoveToken(tok)
			if err != nil {
				return err
			}
			if err := board.Apply(mv); err != nil {
				return fmt.Errorf("apply %s: %w", tok, err)
			}
		}
	}
	e.board = board
	return nil
}

func (e *Engine) search(args []string) []string {
	if res, ok, err := e.book.Lookup(e.board.BoardStateToken()); err == nil && ok {
		return []string{
			fmt.Sprintf("info string book move weight %d", res.Weight),
			"bestmove " + res.Move,
		}
	}

	p := profileFor(e.skill)
	depth := p.Depth
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "depth" {
			if n, err := strconv.Atoi(args[i+1]); err == nil && n > 0 && n < depth {
				depth = n
			}
		}
	}

	ranked := rankMoves(e.board, depth)
	choice, err := selectCandidate(p, ranked, e.rand)
	if err != nil {
		return []string{"bestmove (none)"}
	}
	return []string{
		fmt.Sprintf("info depth %d score cp %d pv %s", depth, choice.EvalCP, choice.Move),
		"bestmove " + choice.Move,
	}
}
