package order

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// IDGenerator produces order identifiers.
type IDGenerator interface {
	NewID(now time.Time) string
}

// RandomIDs generates IDs of the form ORD-<year>-<4 digits>. The digit space
// is small, so collisions are possible; the repository reports them as
// ErrIDCollision instead of overwriting an existing order.
type RandomIDs struct {
	// IntN returns a value in [0, n). Defaults to math/rand/v2.
	IntN func(n int) int
}

// NewID implements IDGenerator.
func (g RandomIDs) NewID(now time.Time) string {
	intn := g.IntN
	if intn == nil {
		intn = rand.IntN
	}
	return FormatID(now.Year(), 1000+intn(9000))
}

// FormatID renders an order ID.
func FormatID(year, seq int) string {
	return fmt.Sprintf("ORD-%d-%04d", year, seq)
}
