package mdir

import (
	"github.com/phoenix-rtos/lfsd/internal/lfserr"
	"github.com/phoenix-rtos/lfsd/internal/tagcodec"
)

// Traverse walks the directory list starting at root, following Tail links,
// calling visit with each fetched Mdir. It stops at the first null tail.
// Cycle detection uses Brent's algorithm (a slow/fast pointer pair) so a
// corrupt tail loop surfaces as an error instead of spinning forever.
func (e *Engine) Traverse(root tagcodec.Pair, visit func(*Mdir) error) error {
	power, lam := 1, 1
	slow := root
	fast := root

	for {
		m, err := e.Fetch(fast)
		if err != nil {
			return err
		}
		if err := visit(m); err != nil {
			return err
		}
		if m.Tail.IsNull() {
			return nil
		}
		fast = m.Tail

		if fast.IsSync(slow) {
			return lfserr.New("mdir.Traverse", lfserr.CORRUPT)
		}
		if lam == power {
			slow = fast
			power *= 2
			lam = 0
		}
		lam++
	}
}
