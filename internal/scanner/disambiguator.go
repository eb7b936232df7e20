package scanner

import "time"

// DefaultGapThreshold separates scanner bursts from typing.
const DefaultGapThreshold = 100 * time.Millisecond

// State of the disambiguator.
type State int

const (
	Idle State = iota
	Accumulating
)

func (s State) String() string {
	if s == Accumulating {
		return "accumulating"
	}
	return "idle"
}

// Frame is a complete scanner-originated sequence.
type Frame struct {
	Text  string
	Start time.Time
	End   time.Time
}

// Config tunes the heuristic.
type Config struct {
	// GapThreshold is the longest pause allowed inside one frame.
	GapThreshold time.Duration
	// Terminator ends a frame.
	Terminator Key
}

// DefaultConfig returns a 100ms threshold with Enter as terminator.
func DefaultConfig() Config {
	return Config{GapThreshold: DefaultGapThreshold, Terminator: Named(KeyEnter)}
}

// Disambiguator turns keystrokes into frames. The zero value is not usable;
// create one with New.
type Disambiguator struct {
	cfg     Config
	onFrame func(Frame)

	buf   []rune
	start time.Time
	last  time.Time
}

// New creates a Disambiguator that delivers each frame to onFrame.
// A non-positive threshold falls back to DefaultGapThreshold.
func New(cfg Config, onFrame func(Frame)) *Disambiguator {
	if cfg.GapThreshold <= 0 {
		cfg.GapThreshold = DefaultGapThreshold
	}
	if cfg.Terminator == (Key{}) {
		cfg.Terminator = Named(KeyEnter)
	}
	return &Disambiguator{cfg: cfg, onFrame: onFrame}
}

// OnKeystroke feeds one keystroke observed at now.
func (d *Disambiguator) OnKeystroke(k Key, fromTextField bool, now time.Time) {
	if fromTextField {
		return
	}

	if !d.last.IsZero() && now.Sub(d.last) > d.cfg.GapThreshold {
		d.discard()
	}
	d.last = now

	if k == d.cfg.Terminator {
		if len(d.buf) > 0 {
			f := Frame{Text: string(d.buf), Start: d.start, End: now}
			d.discard()
			d.onFrame(f)
		}
		return
	}

	if !k.Printable() {
		return
	}
	if len(d.buf) == 0 {
		d.start = now
	}
	d.buf = append(d.buf, k.Char)
}

// State reports whether a frame is being accumulated.
func (d *Disambiguator) State() State {
	if len(d.buf) > 0 {
		return Accumulating
	}
	return Idle
}

// Reset drops any partial frame and forgets the last keystroke time.
func (d *Disambiguator) Reset() {
	d.discard()
	d.last = time.Time{}
}

func (d *Disambiguator) discard() {
	d.buf = d.buf[:0]
	d.start = time.Time{}
}
