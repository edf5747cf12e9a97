// Package classify decides whether a blob is text or binary.
//
// The decision gates which persistence path a fetched blob takes: text goes
// inline on the file node, binary goes through blob storage. The two are
// mutually exclusive, so classification happens before any write.
package classify

import "unicode/utf8"

// Kind is the classification outcome.
type Kind int

const (
	Text Kind = iota
	Binary
)

// sniffLen bounds how much of the buffer is inspected. Matches the window
// conventional tools use; a null byte past this point is vanishingly rare
// in real text files.
const sniffLen = 8000

// Detect classifies a byte buffer as text or binary.
//
// A buffer is binary if its leading window contains a control byte that
// never appears in text, or is not valid UTF-8. Empty buffers are text (a
// newly imported empty file stays a text file with empty content).
func Detect(data []byte) Kind {
	if len(data) == 0 {
		return Text
	}

	window := data
	if len(window) > sniffLen {
		window = window[:sniffLen]
	}

	for _, b := range window {
		if binaryByte(b) {
			return Binary
		}
	}

	if !validUTF8Window(window, len(data) > sniffLen) {
		return Binary
	}
	return Text
}

// binaryByte reports whether b is a control byte that does not occur in
// text files. Whitespace controls and escape are allowed; NUL, the other
// C0 controls, and DEL are binary.
func binaryByte(b byte) bool {
	switch b {
	case '\t', '\n', '\v', '\f', '\r', 0x1b:
		return false
	}
	return b < 0x20 || b == 0x7f
}

// IsBinary reports whether data classifies as binary.
func IsBinary(data []byte) bool {
	return Detect(data) == Binary
}

// validUTF8Window checks UTF-8 validity, tolerating a rune truncated by the
// sniff window boundary.
func validUTF8Window(window []byte, truncated bool) bool {
	if !truncated {
		return utf8.Valid(window)
	}

	// Drop up to utf8.UTFMax-1 trailing bytes that may belong to a rune cut
	// off by the window.
	end := len(window)
	for i := 0; i < utf8.UTFMax-1 && end > 0; i++ {
		if r, _ := utf8.DecodeLastRune(window[:end]); r != utf8.RuneError {
			break
		}
		end--
	}
	return utf8.Valid(window[:end])
}
