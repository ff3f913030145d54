// Package openingbook reads Polyglot opening books and names openings by
// their ECO code.
package openingbook

import (
	"fmt"
	"io"
	"os"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

type Result struct {
	Move   string
	Weight uint16
}

// Book is a loaded Polyglot book. It is read-only and safe for concurrent use.
type Book struct {
	path string
	pg   *nchess.PolyglotBook
}

func Open(path string) (*Book, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("polyglot book path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", path, err)
	}
	defer file.Close()

	book, err := Read(file)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %q: %w", path, err)
	}
	book.path = path
	return book, nil
}

func Read(r io.Reader) (*Book, error) {
	pg, err := nchess.LoadFromReader(r)
	if err != nil {
		return nil, err
	}
	return &Book{pg: pg}, nil
}

func (b *Book) Path() string { return b.path }

// Lookup returns the heaviest book move that is legal in fen. ok is false
// when the position is not in the book.
func (b *Book) Lookup(fen string) (Result, bool, error) {
	if b == nil || b.pg == nil {
		return Result{}, false, nil
	}
	game, err := gameFromFEN(fen)
	if err != nil {
		return Result{}, false, err
	}

	hasher := nchess.NewZobristHasher()
	hashStr, err := hasher.HashPosition(game.FEN())
	if err != nil {
		return Result{}, false, fmt.Errorf("compute polyglot hash: %w", err)
	}
	entries := b.pg.FindMoves(nchess.ZobristHashToUint64(hashStr))

	var (
		best  Result
		found bool
	)
	for _, entry := range entries {
		move := nchess.DecodeMove(entry.Move).ToMove()
		uciMove := move.String()
		if found && entry.Weight <= best.Weight {
			continue
		}
		if err := game.Clone().PushNotationMove(uciMove, nchess.UCINotation{}, nil); err != nil {
			continue
		}
		best = Result{Move: uciMove, Weight: entry.Weight}
		found = true
	}
	return best, found, nil
}

func gameFromFEN(fen string) (*nchess.Game, error) {
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		return nchess.NewGame(), nil
	}
	option, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return nchess.NewGame(option), nil
}
