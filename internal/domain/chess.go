package domain

import (
	"fmt"
	"strings"
)

// Side identifies a chess side.
type Side int

const (
	NoSide Side = iota
	White
	Black
)

func (s Side) String() string {
	switch s {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return "none"
	}
}

// Opponent returns the other side. NoSide maps to itself.
func (s Side) Opponent() Side {
	switch s {
	case White:
		return Black
	case Black:
		return White
	default:
		return NoSide
	}
}

func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	default:
		return NoSide, fmt.Errorf("unknown side %q", raw)
	}
}

// PieceKind is a piece type without color.
type PieceKind int

const (
	NoPieceKind PieceKind = iota
	King
	Queen
	Rook
	Bishop
	Knight
	Pawn
)

// Letter returns the lowercase algebraic letter used in move tokens.
func (k PieceKind) Letter() string {
	switch k {
	case King:
		return "k"
	case Queen:
		return "q"
	case Rook:
		return "r"
	case Bishop:
		return "b"
	case Knight:
		return "n"
	case Pawn:
		return "p"
	default:
		return ""
	}
}

func PieceKindFromLetter(c byte) (PieceKind, bool) {
	switch c {
	case 'k', 'K':
		return King, true
	case 'q', 'Q':
		return Queen, true
	case 'r', 'R':
		return Rook, true
	case 'b', 'B':
		return Bishop, true
	case 'n', 'N':
		return Knight, true
	case 'p', 'P':
		return Pawn, true
	default:
		return NoPieceKind, false
	}
}

// Piece is a colored piece on a square.
type Piece struct {
	Side Side
	Kind PieceKind
}

func (p Piece) IsZero() bool { return p.Kind == NoPieceKind }

// Square is a file/rank pair, both in 0..7 (a1 = {0,0}).
type Square struct {
	File int
	Rank int
}

func (s Square) Valid() bool {
	return s.File >= 0 && s.File < 8 && s.Rank >= 0 && s.Rank < 8
}

func (s Square) String() string {
	if !s.Valid() {
		return "-"
	}
	return string([]byte{byte('a' + s.File), byte('1' + s.Rank)})
}

// ParseSquare parses algebraic coordinates such as "e4".
func ParseSquare(raw string) (Square, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if len(v) != 2 {
		return Square{}, fmt.Errorf("invalid square %q", raw)
	}
	sq := Square{File: int(v[0] - 'a'), Rank: int(v[1] - '1')}
	if v[0] < 'a' || v[1] < '1' || !sq.Valid() {
		return Square{}, fmt.Errorf("invalid square %q", raw)
	}
	return sq, nil
}

// AllSquares lists the 64 squares from a1 to h8, rank by rank.
func AllSquares() []Square {
	out := make([]Square, 0, 64)
	for r := 0; r < 8; r++ {
		for f := 0; f < 8; f++ {
			out = append(out, Square{File: f, Rank: r})
		}
	}
	return out
}

// Move is a from/to pair with an optional promotion piece.
type Move struct {
	From      Square
	To        Square
	Promotion PieceKind
}

func (m Move) String() string {
	return m.From.String() + m.To.String() + m.Promotion.Letter()
}
