package scanner

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Key is one keystroke: either a character or a named special key.
type Key struct {
	Char rune
	Name string
}

// Named keys produced by the station console.
const (
	KeyEnter     = "enter"
	KeyTab       = "tab"
	KeyEscape    = "escape"
	KeyBackspace = "backspace"
)

// Char returns a character keystroke.
func Char(r rune) Key { return Key{Char: r} }

// Named returns a special keystroke such as "enter" or "shift".
func Named(name string) Key { return Key{Name: strings.ToLower(name)} }

// ParseKey reads a configured key: a single character, or a key name.
func ParseKey(s string) Key {
	if utf8.RuneCountInString(s) == 1 {
		r, _ := utf8.DecodeRuneInString(s)
		return Char(r)
	}
	return Named(s)
}

// Printable reports whether the key carries a visible character.
func (k Key) Printable() bool {
	return k.Name == "" && k.Char != 0 && unicode.IsPrint(k.Char)
}

func (k Key) String() string {
	if k.Name != "" {
		return k.Name
	}
	return string(k.Char)
}
