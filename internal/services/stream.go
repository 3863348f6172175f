package services

import (
	"iter"
	"sync/atomic"
	"unicode/utf8"

	"github.com/MegaGrindStone/chat-widget/internal/models"
)

// once makes seq non-restartable: ranging over the result a second time yields only
// models.ErrStreamConsumed.
func once(seq iter.Seq2[string, error]) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", models.ErrStreamConsumed)
			return
		}
		seq(yield)
	}
}

// completeRunes splits b into the longest prefix that does not end inside a multi-byte rune and the
// remaining bytes, which must be prepended to the next chunk.
func completeRunes(b []byte) ([]byte, []byte) {
	// A rune is at most utf8.UTFMax bytes, so only the tail needs inspection.
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return b, nil
		}
		return b[:i], b[i:]
	}
	return b, nil
}
