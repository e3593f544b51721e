package harvest

import (
	"fmt"
	"strings"
)

// Range describes a batch of identifiers: Prefix followed by each number in
// [Start, End], zero-padded to Width digits.
type Range struct {
	Prefix string
	Start  int
	End    int
	Width  int
}

// Validate rejects ranges that cannot produce identifiers.
func (r Range) Validate() error {
	if r.Start < 0 {
		return fmt.Errorf("range start must be >= 0")
	}
	if r.End < r.Start {
		return fmt.Errorf("range end %d is before start %d", r.End, r.Start)
	}
	if r.Width < 0 {
		return fmt.Errorf("range width must be >= 0")
	}
	return nil
}

// Identifiers expands the range in ascending order.
func (r Range) Identifiers() []string {
	if r.End < r.Start {
		return nil
	}
	out := make([]string, 0, r.End-r.Start+1)
	for n := r.Start; n <= r.End; n++ {
		out = append(out, r.Identifier(n))
	}
	return out
}

// Identifier renders the identifier for number n. Numbers wider than Width are
// never truncated.
func (r Range) Identifier(n int) string {
	return strings.TrimSpace(r.Prefix) + fmt.Sprintf("%0*d", r.Width, n)
}
