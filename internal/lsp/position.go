package lsp

import (
	"strings"
	"unicode/utf8"
)

// LSP character offsets count UTF-16 code units. Editors and users count
// runes. These helpers convert between the two for one line of text.

func utf16Width(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}

// lineAt returns line (zero-based) of text, without its newline. Lines past
// the end are empty.
func lineAt(text string, line int) string {
	for i := 0; i < line; i++ {
		nl := strings.IndexByte(text, '\n')
		if nl < 0 {
			return ""
		}
		text = text[nl+1:]
	}
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[:nl]
	}
	return strings.TrimSuffix(text, "\r")
}

// PositionFromRunes returns the LSP position of the rune column on line of
// text. Columns past the end of the line clamp to its end.
func PositionFromRunes(text string, line, runeCol int) Position {
	s := lineAt(text, line)
	units := 0
	for _, r := range s {
		if runeCol <= 0 {
			break
		}
		units += utf16Width(r)
		runeCol--
	}
	return Position{Line: line, Character: units}
}

// RuneColumn returns the rune column of pos within text. A character offset
// that splits a surrogate pair resolves to the rune containing it.
func RuneColumn(text string, pos Position) int {
	s := lineAt(text, pos.Line)
	units, runes := 0, 0
	for len(s) > 0 && units < pos.Character {
		r, size := utf8.DecodeRuneInString(s)
		units += utf16Width(r)
		if units > pos.Character {
			break
		}
		runes++
		s = s[size:]
	}
	return runes
}
