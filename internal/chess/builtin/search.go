package builtin

import (
	"sort"

	"github.com/park285/cheese-duel/internal/domain"
	"github.com/park285/cheese-duel/internal/rules"
)

const (
	mateScore = 100000
	maxPly    = 64
)

var pieceValues = map[domain.PieceKind]int{
	domain.Pawn:   100,
	domain.Knight: 320,
	domain.Bishop: 330,
	domain.Rook:   500,
	domain.Queen:  900,
}

// evaluate scores a position in centipawns from the side to move's view.
func evaluate(pos domain.Position) int {
	score := 0
	for _, sq := range domain.AllSquares() {
		p := pos.PieceAt(sq)
		if p.IsZero() {
			continue
		}
		v := pieceValues[p.Kind] + centreBonus(p, sq)
		if p.Side == pos.SideToMove {
			score += v
		} else {
			score -= v
		}
	}
	return score
}

func centreBonus(p domain.Piece, sq domain.Square) int {
	if p.Kind != domain.Pawn && p.Kind != domain.Knight {
		return 0
	}
	df := sq.File*2 - 7
	dr := sq.Rank*2 - 7
	if df < 0 {
		df = -df
	}
	if dr < 0 {
		dr = -dr
	}
	return (14 - df - dr) * 2
}

// rankMoves scores every legal move of b with a fixed-depth alpha-beta
// search and returns them best first.
func rankMoves(b *rules.Board, depth int) []candidate {
	if depth < 1 {
		depth = 1
	}
	token := b.BoardStateToken()
	out := make([]candidate, 0, 32)
	for _, mv := range b.LegalMoves() {
		child, err := rules.FromFEN(token)
		if err != nil {
			continue
		}
		if err := child.Apply(mv); err != nil {
			continue
		}
		score := -negamax(child, depth-1, 1, -mateScore-1, mateScore+1)
		out = append(out, candidate{Move: mv.String(), EvalCP: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EvalCP > out[j].EvalCP })
	return out
}

func negamax(b *rules.Board, depth, ply, alpha, beta int) int {
	switch b.Status() {
	case domain.StatusCheckmate:
		return -(mateScore - ply)
	case domain.StatusStalemate, domain.StatusDraw:
		return 0
	}
	if depth <= 0 {
		return evaluate(b.Snapshot())
	}
	moves := b.LegalMoves()
	if len(moves) == 0 {
		return 0
	}
	token := b.BoardStateToken()
	best := -mateScore - 1
	for _, mv := range moves {
		child, err := rules.FromFEN(token)
		if err != nil {
			continue
		}
		if err := child.Apply(mv); err != nil {
			continue
		}
		score := -negamax(child, depth-1, ply+1, -beta, -alpha)
		if score > best {
			best = score
		}
		if score > alpha {
			alpha = score
		}
		if alpha >= beta {
			break
		}
	}
	return best
}
