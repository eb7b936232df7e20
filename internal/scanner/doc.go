// Package scanner separates badge-scanner input from human typing on a
// shared keystroke stream.
//
// Hardware scanners emulate a keyboard but "type" at a fast, even pace
// and finish with a terminator key. The Disambiguator buffers printable
// keystrokes while they keep arriving within the gap threshold and emits a
// Frame when the terminator arrives. A longer gap discards the partial
// buffer, and keystrokes aimed at a free-text field are ignored outright.
//
// The threshold is a heuristic, not a hardware guarantee; an unusually
// fast typist can still produce a frame, and adversarial timing is out of
// scope. Both it and the terminator come from configuration.
//
// A Disambiguator is not safe for concurrent use. Feed it from the single
// goroutine that reads the input device.
package scanner
