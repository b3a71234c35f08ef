package hid

import "time"

// Step is one frame plus the minimum time that must pass after sending it
// before the next frame (or the next action) may be sent.
type Step struct {
	Frame Frame
	Wait  time.Duration
}

// MoveSteps sends an absolute move and lets it settle.
func MoveSteps(move MouseFrame) []Step {
	return []Step{{Frame: move, Wait: MoveSettle}}
}

// ClickSteps holds button for ClickHold, releases it and lets it settle.
func ClickSteps(button MouseButton) []Step {
	down, up := EncodeMouseClick(button)
	return []Step{
		{Frame: down, Wait: ClickHold},
		{Frame: up, Wait: ClickSettle},
	}
}

// DoubleClickSteps issues two full click sequences.
func DoubleClickSteps(button MouseButton) []Step {
	steps := make([]Step, 0, 4)
	for _, pair := range EncodeMouseDoubleClick(button) {
		steps = append(steps,
			Step{Frame: pair.Down, Wait: ClickHold},
			Step{Frame: pair.Up, Wait: ClickSettle},
		)
	}
	return steps
}

// KeyPressSteps holds a key for KeyHold, releases it and waits KeyGap.
func KeyPressSteps(pair KeyPair) []Step {
	return []Step{
		{Frame: pair.Down, Wait: KeyHold},
		{Frame: pair.Up, Wait: KeyGap},
	}
}

// TypeSteps flattens key presses into a step sequence, release after each down.
func TypeSteps(pairs []KeyPair) []Step {
	steps := make([]Step, 0, len(pairs)*2)
	for _, p := range pairs {
		steps = append(steps, KeyPressSteps(p)...)
	}
	return steps
}

// MinDuration is the shortest wall time a step sequence can take.
func MinDuration(steps []Step) time.Duration {
	var d time.Duration
	for _, s := range steps {
		d += s.Wait
	}
	return d
}
