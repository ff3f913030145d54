// Package render draws positions for the human player: a text board for the
// terminal and a PNG snapshot file.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/park285/cheese-duel/internal/domain"
	"golang.org/x/term"
)

const (
	ansiReset      = "\x1b[0m"
	ansiLight      = "\x1b[48;5;180m"
	ansiDark       = "\x1b[48;5;137m"
	ansiOrigin     = "\x1b[48;5;221m"
	ansiDest       = "\x1b[48;5;114m"
	ansiLastMove   = "\x1b[48;5;186m"
	ansiWhitePiece = "\x1b[1;97m"
	ansiBlackPiece = "\x1b[1;30m"
)

// ColorSupported reports whether f is a terminal that should get ANSI colors.
// NO_COLOR disables colors regardless.
func ColorSupported(f *os.File) bool {
	if f == nil {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// BoardView is what FormatBoard needs to draw one frame.
type BoardView struct {
	Position     domain.Position
	Orientation  domain.Side
	Origin       *domain.Square
	Destinations []domain.Square
	Color        bool
}

// FormatBoard draws the board with the orientation side at the bottom. Without
// colors the origin is bracketed and destinations are marked with '*' (empty)
// or parentheses (capture).
func FormatBoard(v BoardView) string {
	dest := make(map[domain.Square]bool, len(v.Destinations))
	for _, sq := range v.Destinations {
		dest[sq] = true
	}

	ranks := []int{7, 6, 5, 4, 3, 2, 1, 0}
	files := []int{0, 1, 2, 3, 4, 5, 6, 7}
	if v.Orientation == domain.Black {
		ranks = []int{0, 1, 2, 3, 4, 5, 6, 7}
		files = []int{7, 6, 5, 4, 3, 2, 1, 0}
	}

	var b strings.Builder
	for _, r := range ranks {
		fmt.Fprintf(&b, "%d ", r+1)
		for _, f := range files {
			sq := domain.Square{File: f, Rank: r}
			piece := v.Position.PieceAt(sq)
			isOrigin := v.Origin != nil && *v.Origin == sq
			if v.Color {
				b.WriteString(colorCell(sq, piece, isOrigin, dest[sq], isLastMove(v.Position.LastMove, sq)))
			} else {
				b.WriteString(plainCell(piece, isOrigin, dest[sq]))
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("  ")
	for _, f := range files {
		fmt.Fprintf(&b, " %c ", 'a'+f)
	}
	b.WriteString("\n")
	return b.String()
}

func plainCell(piece domain.Piece, origin, dest bool) string {
	glyph := pieceGlyph(piece)
	switch {
	case origin:
		return "[" + glyph + "]"
	case dest && piece.IsZero():
		return " * "
	case dest:
		return "(" + glyph + ")"
	default:
		return " " + glyph + " "
	}
}

func colorCell(sq domain.Square, piece domain.Piece, origin, dest, last bool) string {
	bg := ansiDark
	if (sq.File+sq.Rank)%2 == 1 {
		bg = ansiLight
	}
	switch {
	case origin:
		bg = ansiOrigin
	case dest:
		bg = ansiDest
	case last:
		bg = ansiLastMove
	}
	fg := ansiWhitePiece
	if piece.Side == domain.Black {
		fg = ansiBlackPiece
	}
	glyph := pieceGlyph(piece)
	if piece.IsZero() {
		glyph = " "
		if dest {
			glyph = "·"
		}
	}
	return bg + fg + " " + glyph + " " + ansiReset
}

func pieceGlyph(p domain.Piece) string {
	if p.IsZero() {
		return "."
	}
	letter := p.Kind.Letter()
	if p.Side == domain.White {
		return strings.ToUpper(letter)
	}
	return letter
}

func isLastMove(m *domain.Move, sq domain.Square) bool {
	return m != nil && (m.From == sq || m.To == sq)
}

// Terminal prints the board and status lines to out. It is safe to call from
// the controller loop while the prompt goroutine writes to the same stream.
type Terminal struct {
	mu          sync.Mutex
	out         io.Writer
	orientation domain.Side
	color       bool

	pos    domain.Position
	origin *domain.Square
	dests  []domain.Square
	status string
	fatal  string
}

func NewTerminal(out io.Writer, orientation domain.Side, color bool) *Terminal {
	if orientation != domain.Black {
		orientation = domain.White
	}
	return &Terminal{out: out, orientation: orientation, color: color}
}

func (t *Terminal) PositionChanged(pos domain.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pos = pos
	t.origin = nil
	t.dests = nil
	if pos.Ply == 0 {
		t.fatal = ""
	}
	t.drawLocked()
}

func (t *Terminal) SelectionChanged(origin *domain.Square, destinations []domain.Square) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if origin == nil && t.origin == nil {
		return
	}
	t.origin = origin
	t.dests = append(t.dests[:0], destinations...)
	t.drawLocked()
}

func (t *Terminal) StatusChanged(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = text
	if text != "" {
		fmt.Fprintln(t.out, text)
	}
}

func (t *Terminal) FatalError(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fatal = reason
	fmt.Fprintln(t.out, reason)
}

// Redraw prints the current frame again, e.g. for the "board" command.
func (t *Terminal) Redraw() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drawLocked()
	if t.status != "" {
		fmt.Fprintln(t.out, t.status)
	}
	if t.fatal != "" {
		fmt.Fprintln(t.out, t.fatal)
	}
}

// Status returns the last status line.
func (t *Terminal) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Terminal) drawLocked() {
	fmt.Fprint(t.out, FormatBoard(BoardView{
		Position:     t.pos,
		Orientation:  t.orientation,
		Origin:       t.origin,
		Destinations: t.dests,
		Color:        t.color,
	}))
	if t.pos.Opening != "" {
		fmt.Fprintln(t.out, t.pos.Opening)
	}
}
