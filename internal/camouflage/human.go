package camouflage

import (
	"context"
	"time"
)

const (
	fallbackViewportWidth  = 1280
	fallbackViewportHeight = 720
)

// Delay ranges between discrete actions.
var (
	ShortDelayMin  = 120 * time.Millisecond
	ShortDelayMax  = 450 * time.Millisecond
	ScrollDelayMin = 350 * time.Millisecond
	ScrollDelayMax = 900 * time.Millisecond
)

// PointerWander moves the pointer 3-7 times to random points inside the
// central 90% of the viewport, each move interpolated over 10-25 steps.
// Session failures degrade to plain delays; only ctx errors are returned.
func (b *Behavior) PointerWander(ctx context.Context, s Session) error {
	width, height, ok := s.ViewportSize()
	if !ok || width <= 0 || height <= 0 {
		width, height = fallbackViewportWidth, fallbackViewportHeight
	}

	moves := b.Intn(3, 7)
	for i := 0; i < moves; i++ {
		x := b.Intn(width*5/100, width*95/100)
		y := b.Intn(height*5/100, height*95/100)
		steps := b.Intn(10, 25)

		if err := s.MoveMouse(float64(x), float64(y), steps); err != nil {
			b.logger.Debug("pointer move skipped", "error", err)
		}
		if err := b.RandomDelay(ctx, ShortDelayMin, ShortDelayMax); err != nil {
			return err
		}
	}

	return nil
}

// GradualScroll scrolls down in 6-10 increments of 300-900 pixels, pausing
// and wandering the pointer after each one.
func (b *Behavior) GradualScroll(ctx context.Context, s Session) error {
	segments := b.Intn(6, 10)
	for i := 0; i < segments; i++ {
		if err := s.Wheel(0, float64(b.Intn(300, 900))); err != nil {
			b.logger.Debug("scroll skipped", "error", err)
		}
		if err := b.RandomDelay(ctx, ScrollDelayMin, ScrollDelayMax); err != nil {
			return err
		}
		if err := b.PointerWander(ctx, s); err != nil {
			return err
		}
	}

	return nil
}
