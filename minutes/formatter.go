// Package minutes renders transcription results as Markdown meeting minutes.
package minutes

import (
	"fmt"
	"strings"
	"time"

	"github.com/bosley/recordnote/scribe"
)

// DefaultTitle is used when no title is given.
const DefaultTitle = "会議録"

const (
	timestampLayout = "2006年01月02日 15:04:05"
	sentenceEnders  = "。！？"
	defaultLanguage = "ja"
)

// Format renders result as a minutes document generated at the given time.
func Format(result scribe.Result, title string, at time.Time) string {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	language := result.Language
	if language == "" {
		language = defaultLanguage
	}
	stamp := at.Format(timestampLayout)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n**日時**: %s\n\n", title, stamp)
	b.WriteString("## 音声認識結果\n\n")
	b.WriteString(CleanText(result.Text))
	b.WriteString("\n\n")

	if details := formatSegments(result.Segments); details != "" {
		b.WriteString("## タイムスタンプ付き詳細\n\n")
		b.WriteString(details)
	}

	fmt.Fprintf(&b, "\n\n---\n\n**言語**: %s\n", language)
	fmt.Fprintf(&b, "**作成日時**: %s\n", stamp)
	return b.String()
}

func formatSegments(segments []scribe.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "**%s - %s**: %s\n\n", FormatTimestamp(seg.Start), FormatTimestamp(seg.End), text)
	}
	return b.String()
}

// FormatTimestamp renders seconds as MM:SS. Minutes do not roll over into
// hours.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// CleanText collapses whitespace and regroups the text into paragraphs of
// two sentences. A trailing fragment without sentence-ending punctuation is
// kept as the last clause.
func CleanText(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if collapsed == "" {
		return ""
	}

	clauses := splitClauses(collapsed)

	var b strings.Builder
	for i, clause := range clauses {
		b.WriteString(clause)
		if i == len(clauses)-1 {
			break
		}
		if (i+1)%2 == 0 {
			b.WriteString("\n\n")
		} else {
			b.WriteString(" ")
		}
	}
	return b.String()
}

// splitClauses splits after each sentence-ending mark, keeping the mark with
// its clause and dropping clauses that are blank.
func splitClauses(text string) []string {
	var (
		clauses []string
		current strings.Builder
	)
	flush := func() {
		if clause := strings.TrimSpace(current.String()); clause != "" {
			clauses = append(clauses, clause)
		}
		current.Reset()
	}

	for _, r := range text {
		current.WriteRune(r)
		if strings.ContainsRune(sentenceEnders, r) {
			flush()
		}
	}
	flush()
	return clauses
}
