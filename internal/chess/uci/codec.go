package uci

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/cheese-duel/internal/domain"
)

type EventKind int

const (
	EventUnrecognized EventKind = iota
	EventHandshakeAck
	EventReadyAck
	EventBestMove
)

func (k EventKind) String() string {
	switch k {
	case EventHandshakeAck:
		return "uciok"
	case EventReadyAck:
		return "readyok"
	case EventBestMove:
		return "bestmove"
	default:
		return "unrecognized"
	}
}

// Event is one decoded line of engine output.
type Event struct {
	Kind   EventKind
	Move   domain.Move
	Ponder *domain.Move
	Raw    string
	// Err is set when the line looked significant but could not be decoded.
	Err error
}

const SkillLevelOption = "Skill Level"

func EncodeHandshake() string { return "uci" }

func EncodeSetOption(name, value string) string {
	return fmt.Sprintf("setoption name %s value %s", strings.TrimSpace(name), strings.TrimSpace(value))
}

func EncodeReadyCheck() string { return "isready" }

func EncodeNewGame() string { return "ucinewgame" }

func EncodeStop() string { return "stop" }

func EncodeQuit() string { return "quit" }

// EncodePositionAndSearch returns the position/go pair. Callers must write
// both lines back to back.
func EncodePositionAndSearch(boardToken string, depth int) [2]string {
	var position string
	token := strings.TrimSpace(boardToken)
	if token == "" || token == "startpos" {
		position = "position startpos"
	} else {
		position = "position fen " + token
	}
	if depth <= 0 {
		depth = 1
	}
	return [2]string{position, "go depth " + strconv.Itoa(depth)}
}

// DecodeLine never fails; anything it cannot use becomes EventUnrecognized.
func DecodeLine(line string) Event {
	raw := strings.TrimSpace(line)
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return Event{Kind: EventUnrecognized, Raw: raw}
	}
	switch fields[0] {
	case "uciok":
		return Event{Kind: EventHandshakeAck, Raw: raw}
	case "readyok":
		return Event{Kind: EventReadyAck, Raw: raw}
	case "bestmove":
		if len(fields) < 2 {
			return Event{Kind: EventUnrecognized, Raw: raw, Err: fmt.Errorf("%w: bestmove without token", ErrMalformedProtocolLine)}
		}
		mv, err := ParseMoveToken(fields[1])
		if err != nil {
			return Event{Kind: EventUnrecognized, Raw: raw, Err: err}
		}
		ev := Event{Kind: EventBestMove, Move: mv, Raw: raw}
		if len(fields) >= 4 && fields[2] == "ponder" {
			if pm, perr := ParseMoveToken(fields[3]); perr == nil {
				ev.Ponder = &pm
			}
		}
		return ev
	default:
		return Event{Kind: EventUnrecognized, Raw: raw}
	}
}

// ParseMoveToken parses a long-algebraic token such as e2e4 or e7e8q.
func ParseMoveToken(token string) (domain.Move, error) {
	tok := strings.TrimSpace(token)
	if len(tok) != 4 && len(tok) != 5 {
		return domain.Move{}, fmt.Errorf("%w: move token %q", ErrMalformedProtocolLine, token)
	}
	from, err := domain.ParseSquare(tok[0:2])
	if err != nil {
		return domain.Move{}, fmt.Errorf("%w: move token %q", ErrMalformedProtocolLine, token)
	}
	to, err := domain.ParseSquare(tok[2:4])
	if err != nil {
		return domain.Move{}, fmt.Errorf("%w: move token %q", ErrMalformedProtocolLine, token)
	}
	mv := domain.Move{From: from, To: to}
	if len(tok) == 5 {
		kind, ok := domain.PieceKindFromLetter(tok[4])
		if !ok || kind == domain.King || kind == domain.Pawn {
			return domain.Move{}, fmt.Errorf("%w: promotion in %q", ErrMalformedProtocolLine, token)
		}
		mv.Promotion = kind
	}
	return mv, nil
}

func EncodeMoveToken(mv domain.Move) string {
	return strings.ToLower(mv.String())
}
