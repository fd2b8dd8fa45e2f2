package minutes

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/bosley/recordnote/scribe"
)

// Stats summarises a transcription.
type Stats struct {
	Duration     float64 `json:"duration"`
	SegmentCount int     `json:"segment_count"`

	// WordCount is the number of whitespace-separated tokens.
	WordCount int `json:"word_count"`

	// CharCount counts code points that are neither whitespace nor
	// punctuation. It is not the raw length of the text: "a, b." gives 2.
	CharCount int `json:"char_count"`
}

// Summarize derives Stats from result. Duration is the end of the last
// segment; word and character counts come from the full text.
func Summarize(result scribe.Result) Stats {
	stats := Stats{
		WordCount: len(strings.Fields(result.Text)),
		CharCount: countChars(result.Text),
	}
	if n := len(result.Segments); n > 0 {
		stats.Duration = result.Segments[n-1].End
		stats.SegmentCount = n
	}
	return stats
}

// Lines renders the stats as the labelled lines shown next to a document.
func (s Stats) Lines() []string {
	return []string{
		fmt.Sprintf("録音時間: %.1f秒", s.Duration),
		fmt.Sprintf("セグメント数: %d", s.SegmentCount),
		fmt.Sprintf("単語数: %d", s.WordCount),
		fmt.Sprintf("文字数: %d", s.CharCount),
	}
}

// countChars counts code points that are neither whitespace nor punctuation,
// so "これはテストです。" has 8.
func countChars(text string) int {
	n := 0
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		n++
	}
	return n
}
