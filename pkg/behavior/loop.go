// Package behavior holds the run-shaping values decided once from
// configuration: how many iterations the main loop runs and where the
// loading simulation fires.
package behavior

import "fmt"

// LoopBehavior bounds the main loop. The zero value is Limited(0).
type LoopBehavior struct {
	unlimited bool
	limit     uint32
}

// Unlimited returns a behavior that never stops the loop.
func Unlimited() LoopBehavior {
	return LoopBehavior{unlimited: true}
}

// Limited returns a behavior that stops the loop after n iterations.
func Limited(n uint32) LoopBehavior {
	return LoopBehavior{limit: n}
}

// Compute maps the nb-loop setting to a LoopBehavior.
// Negative values mean unlimited.
func Compute(nbLoop int32) LoopBehavior {
	if nbLoop < 0 {
		return Unlimited()
	}
	return Limited(uint32(nbLoop))
}

// IsUnlimited reports whether the loop runs forever.
func (b LoopBehavior) IsUnlimited() bool {
	return b.unlimited
}

// Continue reports whether another iteration should start after count
// iterations have run.
func (b LoopBehavior) Continue(count uint32) bool {
	if b.unlimited {
		return true
	}
	return count < b.limit
}

func (b LoopBehavior) String() string {
	if b.unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("limited(%d)", b.limit)
}
