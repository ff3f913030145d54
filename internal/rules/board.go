package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/cheese-duel/internal/chess/openingbook"
	"github.com/park285/cheese-duel/internal/domain"
)

var ErrMoveRejected = errors.New("move rejected")

// Board owns the game state. It is not safe for concurrent use; the turn
// controller only touches it from its event loop.
type Board struct {
	game *nchess.Game
	// fromStart is false for boards set up from a FEN, whose move list
	// cannot be matched against opening names.
	fromStart bool
}

func New() *Board {
	return &Board{game: nchess.NewGame(), fromStart: true}
}

// FromFEN builds a board from a FEN string. "" and "startpos" give the
// initial position.
func FromFEN(fen string) (*Board, error) {
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		return New(), nil
	}
	option, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return &Board{game: nchess.NewGame(option)}, nil
}

func (b *Board) Reset() {
	b.game = nchess.NewGame()
	b.fromStart = true
}

// LegalDestinations lists the squares the piece on origin may move to,
// ordered a1..h8. It is empty when origin is not the side to move's piece.
func (b *Board) LegalDestinations(origin domain.Square) []domain.Square {
	if !origin.Valid() {
		return nil
	}
	seen := make(map[domain.Square]struct{})
	var out []domain.Square
	for _, mv := range b.game.ValidMoves() {
		if fromSquare(mv.S1()) != origin {
			continue
		}
		to := fromSquare(mv.S2())
		if _, ok := seen[to]; ok {
			continue
		}
		seen[to] = struct{}{}
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].File < out[j].File
	})
	return out
}

// LegalMoves lists every legal move for the side to move.
func (b *Board) LegalMoves() []domain.Move {
	valid := b.game.ValidMoves()
	out := make([]domain.Move, 0, len(valid))
	for _, mv := range valid {
		out = append(out, domain.Move{
			From:      fromSquare(mv.S1()),
			To:        fromSquare(mv.S2()),
			Promotion: fromPieceType(mv.Promo()),
		})
	}
	return out
}

// AttemptMove plays from->to if it is legal. promotion is only consulted for
// pawn promotions and defaults to a queen.
func (b *Board) AttemptMove(from, to domain.Square, promotion domain.PieceKind) (domain.Move, error) {
	if b.Status().GameOver() {
		return domain.Move{}, fmt.Errorf("%w: game is over", ErrMoveRejected)
	}
	want := promotion
	if want == domain.NoPieceKind {
		want = domain.Queen
	}
	for _, mv := range b.game.ValidMoves() {
		if fromSquare(mv.S1()) != from || fromSquare(mv.S2()) != to {
			continue
		}
		promo := fromPieceType(mv.Promo())
		if promo != domain.NoPieceKind && promo != want {
			continue
		}
		played := domain.Move{From: from, To: to, Promotion: promo}
		if err := b.game.PushNotationMove(played.String(), nchess.UCINotation{}, nil); err != nil {
			return domain.Move{}, fmt.Errorf("%w: %s: %v", ErrMoveRejected, played, err)
		}
		return played, nil
	}
	return domain.Move{}, fmt.Errorf("%w: %s%s", ErrMoveRejected, from, to)
}

// Apply plays a move proposed by an engine.
func (b *Board) Apply(mv domain.Move) error {
	_, err := b.AttemptMove(mv.From, mv.To, mv.Promotion)
	return err
}

// BoardStateToken is the FEN of the current position.
func (b *Board) BoardStateToken() string {
	return b.game.FEN()
}

func (b *Board) Status() domain.Status {
	switch b.game.Outcome() {
	case nchess.WhiteWon, nchess.BlackWon:
		// no resignations here, a decided game is a mate
		return domain.StatusCheckmate
	case nchess.Draw:
		if b.game.Method() == nchess.Stalemate {
			return domain.StatusStalemate
		}
		return domain.StatusDraw
	}
	// repetition and the fifty-move rule are only claimable in the library;
	// here they end the game
	for _, m := range b.game.EligibleDraws() {
		if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
			return domain.StatusDraw
		}
	}
	moves := b.game.Moves()
	if len(moves) > 0 && moves[len(moves)-1].HasTag(nchess.Check) {
		return domain.StatusCheck
	}
	return domain.StatusNone
}

func (b *Board) PieceAt(sq domain.Square) domain.Piece {
	if !sq.Valid() {
		return domain.Piece{}
	}
	return fromPiece(b.game.Position().Board().Piece(toSquare(sq)))
}

func (b *Board) PieceOwner(sq domain.Square) domain.Side {
	return b.PieceAt(sq).Side
}

func (b *Board) SideToMove() domain.Side {
	return fromColor(b.game.Position().Turn())
}

// History returns the played moves in UCI form.
func (b *Board) History() []string {
	moves := b.game.Moves()
	out := make([]string, 0, len(moves))
	for _, mv := range moves {
		out = append(out, moveOf(mv).String())
	}
	return out
}

func (b *Board) Snapshot() domain.Position {
	board := b.game.Position().Board()
	pos := domain.Position{
		SideToMove: b.SideToMove(),
		Status:     b.Status(),
		Token:      b.game.FEN(),
	}
	for _, sq := range domain.AllSquares() {
		pos.Board[sq.Rank][sq.File] = fromPiece(board.Piece(toSquare(sq)))
	}
	moves := b.game.Moves()
	pos.Ply = len(moves)
	if len(moves) > 0 {
		last := moveOf(moves[len(moves)-1])
		pos.LastMove = &last
	}
	if b.game.Outcome() != nchess.NoOutcome {
		pos.Method = fmt.Sprint(b.game.Method())
	}
	if b.fromStart {
		if code, title, ok := openingbook.Name(moves); ok {
			pos.Opening = code + " " + title
		}
	}
	return pos
}

func moveOf(mv *nchess.Move) domain.Move {
	return domain.Move{
		From:      fromSquare(mv.S1()),
		To:        fromSquare(mv.S2()),
		Promotion: fromPieceType(mv.Promo()),
	}
}

func toSquare(sq domain.Square) nchess.Square {
	return nchess.NewSquare(nchess.File(sq.File), nchess.Rank(sq.Rank))
}

func fromSquare(sq nchess.Square) domain.Square {
	return domain.Square{File: int(sq.File()), Rank: int(sq.Rank())}
}

func fromColor(c nchess.Color) domain.Side {
	switch c {
	case nchess.White:
		return domain.White
	case nchess.Black:
		return domain.Black
	default:
		return domain.NoSide
	}
}

func fromPiece(p nchess.Piece) domain.Piece {
	if p == nchess.NoPiece {
		return domain.Piece{}
	}
	return domain.Piece{Side: fromColor(p.Color()), Kind: fromPieceType(p.Type())}
}

func fromPieceType(pt nchess.PieceType) domain.PieceKind {
	switch pt {
	case nchess.King:
		return domain.King
	case nchess.Queen:
		return domain.Queen
	case nchess.Rook:
		return domain.Rook
	case nchess.Bishop:
		return domain.Bishop
	case nchess.Knight:
		return domain.Knight
	case nchess.Pawn:
		return domain.Pawn
	default:
		return domain.NoPieceKind
	}
}
