package autosave

import (
	"time"

	"vellum/internal/domain"
)

// Defaults for the save pipeline. Debounce and retry values mirror the
// editor's expectations: saves land within a few seconds of the last
// keystroke, retries back off exponentially up to half a minute.
const (
	DefaultDebounce       = 5 * time.Second
	DefaultRetryBaseDelay = 2 * time.Second
	DefaultRetryMaxDelay  = 30 * time.Second
	DefaultMaxRetries     = 5
)

// Options tunes a document engine.
type Options struct {
	// Debounce is the quiet period after the last edit before a save is
	// attempted.
	Debounce time.Duration

	// RetryBaseDelay is the first retry delay; subsequent delays double
	// up to RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// MaxRetries is the ceiling on consecutive transient failures before
	// automatic retries stop and a manual save is required.
	MaxRetries int

	// Clock is injectable for tests; nil means the system clock.
	Clock domain.Clock
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Clock == nil {
		o.Clock = domain.SystemClock{}
	}
	return o
}
