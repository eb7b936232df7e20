package station

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/gray-logic-access/internal/scanner"
)

// KeyInterrupt is produced by Ctrl-C on a raw terminal.
const KeyInterrupt = "interrupt"

// DecodeKeys maps raw terminal bytes to keys. A trailing partial UTF-8
// sequence is returned as rest for the next read.
func DecodeKeys(b []byte) (keys []scanner.Key, rest []byte) {
	for len(b) > 0 {
		c := b[0]
		switch {
		case c == '\r' || c == '\n':
			keys = append(keys, scanner.Named(scanner.KeyEnter))
		case c == '\t':
			keys = append(keys, scanner.Named(scanner.KeyTab))
		case c == 0x1b:
			keys = append(keys, scanner.Named(scanner.KeyEscape))
		case c == 0x7f || c == 0x08:
			keys = append(keys, scanner.Named(scanner.KeyBackspace))
		case c == 0x03:
			keys = append(keys, scanner.Named(KeyInterrupt))
		case c < 0x20:
			keys = append(keys, scanner.Named(fmt.Sprintf("ctrl+%c", c+'@')))
		case c < utf8.RuneSelf:
			keys = append(keys, scanner.Char(rune(c)))
		default:
			if !utf8.FullRune(b) {
				return keys, b
			}
			r, size := utf8.DecodeRune(b)
			keys = append(keys, scanner.Char(r))
			b = b[size:]
			continue
		}
		b = b[1:]
	}
	return keys, nil
}

// Console feeds a raw terminal to a station.
type Console struct {
	station *Station
	out     io.Writer
	now     func() time.Time
}

// NewConsole creates a Console. Decisions are written to out.
func NewConsole(st *Station, out io.Writer) *Console {
	return &Console{station: st, out: out, now: time.Now}
}

// Run reads in until EOF, Ctrl-C or ctx is done. Each read is stamped
// with the time it returned, so keystrokes delivered in one read share
// an instant.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	buf := make([]byte, 256)
	var pending []byte

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n, err := in.Read(buf)
		now := c.now()
		if n > 0 {
			var keys []scanner.Key
			keys, pending = DecodeKeys(append(pending, buf[:n]...))
			for _, k := range keys {
				if k.Name == KeyInterrupt {
					return nil
				}
				d, kerr := c.station.Keystroke(ctx, k, false, now)
				if d != nil {
					fmt.Fprintln(c.out, Describe(*d))
				}
				if kerr != nil {
					fmt.Fprintf(c.out, "warning: decision not saved: %v\n", kerr)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading console: %w", err)
		}
	}
}
