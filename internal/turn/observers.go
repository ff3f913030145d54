package turn

import "github.com/park285/cheese-duel/internal/domain"

// Observers fans every notification out to each member in order.
type Observers []Observer

func (o Observers) PositionChanged(pos domain.Position) {
	for _, obs := range o {
		obs.PositionChanged(pos)
	}
}

func (o Observers) StatusChanged(text string) {
	for _, obs := range o {
		obs.StatusChanged(text)
	}
}

func (o Observers) SelectionChanged(origin *domain.Square, destinations []domain.Square) {
	for _, obs := range o {
		obs.SelectionChanged(origin, destinations)
	}
}

func (o Observers) FatalError(reason string) {
	for _, obs := range o {
		obs.FatalError(reason)
	}
}
