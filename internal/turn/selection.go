package turn

import "github.com/park285/cheese-duel/internal/domain"

// Selection is the currently picked origin square and its destinations.
// Destinations are only for highlighting; moves are always re-checked with
// the rules.
type Selection struct {
	origin       domain.Square
	active       bool
	destinations []domain.Square
}

type destinationSource interface {
	LegalDestinations(origin domain.Square) []domain.Square
}

// Select replaces any prior selection.
func (s *Selection) Select(origin domain.Square, rules destinationSource) {
	s.origin = origin
	s.active = true
	s.destinations = rules.LegalDestinations(origin)
}

func (s *Selection) Clear() {
	s.origin = domain.Square{}
	s.active = false
	s.destinations = nil
}

// Origin returns the selected square, if any.
func (s Selection) Origin() (domain.Square, bool) {
	return s.origin, s.active
}

func (s Selection) Destinations() []domain.Square {
	out := make([]domain.Square, len(s.destinations))
	copy(out, s.destinations)
	return out
}

func (s Selection) Has(sq domain.Square) bool {
	for _, d := range s.destinations {
		if d == sq {
			return true
		}
	}
	return false
}
