package domain

// Status is what the rules report about the side to move.
type Status int

const (
	StatusNone Status = iota
	StatusCheck
	StatusCheckmate
	StatusStalemate
	StatusDraw
)

func (s Status) String() string {
	switch s {
	case StatusCheck:
		return "check"
	case StatusCheckmate:
		return "checkmate"
	case StatusStalemate:
		return "stalemate"
	case StatusDraw:
		return "draw"
	default:
		return "none"
	}
}

// GameOver reports whether no further moves can be played.
func (s Status) GameOver() bool {
	return s == StatusCheckmate || s == StatusStalemate || s == StatusDraw
}

// Position is a read-only snapshot of the board handed to render sinks.
// Board is indexed [rank][file] with a1 at [0][0].
type Position struct {
	Board      [8][8]Piece
	SideToMove Side
	Status     Status
	// Method names how a finished game ended, e.g. "Checkmate" or "FiftyMoveRule".
	Method   string
	LastMove *Move
	Token    string
	Ply      int
	// Opening is the ECO code and name of the line played, when known.
	Opening string
}

func (p Position) PieceAt(sq Square) Piece {
	if !sq.Valid() {
		return Piece{}
	}
	return p.Board[sq.Rank][sq.File]
}
