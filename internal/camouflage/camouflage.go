package camouflage

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// ErrUnsupported is returned by sessions that cannot perform an action, for
// example a page without pointer support.
var ErrUnsupported = errors.New("action not supported by session")

// Session is the subset of a live browser page the camouflage layer drives.
type Session interface {
	MoveMouse(x, y float64, steps int) error
	Wheel(dx, dy float64) error
	ViewportSize() (width, height int, ok bool)
}

// SleepFunc suspends for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	// Seed makes the random sequence reproducible. Zero seeds from the clock.
	Seed       int64
	UserAgents []string
	Sleep      SleepFunc
	Logger     *slog.Logger
}

// Behavior generates randomized pseudo-human interaction around page loads.
// It is safe for concurrent use.
type Behavior struct {
	mu         sync.Mutex
	rng        *rand.Rand
	userAgents []string
	sleep      SleepFunc
	logger     *slog.Logger
}

func New(opts Options) *Behavior {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	userAgents := opts.UserAgents
	if len(userAgents) == 0 {
		userAgents = DefaultUserAgents()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Behavior{
		rng:        rand.New(rand.NewSource(seed)),
		userAgents: userAgents,
		sleep:      sleep,
		logger:     logger.With("component", "camouflage"),
	}
}

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Intn returns a uniform integer in [min, max].
func (b *Behavior) Intn(min, max int) int {
	if max <= min {
		return min
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return min + b.rng.Intn(max-min+1)
}

// Duration returns a uniform duration in [min, max].
func (b *Behavior) Duration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return min + time.Duration(b.rng.Int63n(int64(max-min)+1))
}

// RandomDelay suspends for a uniformly distributed duration in [min, max].
func (b *Behavior) RandomDelay(ctx context.Context, min, max time.Duration) error {
	return b.sleep(ctx, b.Duration(min, max))
}

// SelectUserAgent picks one agent from the pool. Call it once per session.
func (b *Behavior) SelectUserAgent() string {
	return b.userAgents[b.Intn(0, len(b.userAgents)-1)]
}

// RandomViewport picks a desktop-sized viewport. Call it once per session.
func (b *Behavior) RandomViewport() (width, height int) {
	return b.Intn(1280, 1440), b.Intn(720, 900)
}

// DefaultUserAgents is the built-in pool of realistic desktop and mobile agents.
func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 13; Pixel 6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Mobile Safari/537.36",
	}
}
