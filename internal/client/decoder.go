package client

import (
	"strings"
	"unicode/utf8"
)

// utf8Decoder turns a chunked byte stream into text. A rune split across two chunks
// is held back until its remaining bytes arrive.
type utf8Decoder struct {
	pending []byte
}

func (d *utf8Decoder) Decode(chunk []byte) string {
	buf := append(d.pending, chunk...)
	cut := len(buf)
	for i := len(buf) - 1; i >= 0 && i >= len(buf)-utf8.UTFMax; i-- {
		if utf8.RuneStart(buf[i]) {
			if !utf8.FullRune(buf[i:]) {
				cut = i
			}
			break
		}
	}
	d.pending = append([]byte(nil), buf[cut:]...)
	return string(buf[:cut])
}

// Flush returns whatever is still held back, with invalid bytes replaced.
func (d *utf8Decoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	s := strings.ToValidUTF8(string(d.pending), string(utf8.RuneError))
	d.pending = nil
	return s
}
