package openingbook

import (
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

// Name returns the most specific ECO opening for the moves played so far.
func Name(moves []*nchess.Move) (code, title string, ok bool) {
	if len(moves) == 0 {
		return "", "", false
	}
	ecoOnce.Do(func() { ecoBook = opening.NewBookECO() })
	o := ecoBook.Find(moves)
	if o == nil {
		return "", "", false
	}
	return o.Code(), o.Title(), true
}
