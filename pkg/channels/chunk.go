package channels

import "strings"

// Chunk splits text into pieces no longer than maxChars, breaking on
// newlines or spaces where possible so a chunk boundary doesn't land
// mid-word. Used by the default Format implementation channel plugins can
// embed instead of reimplementing chunking themselves.
func Chunk(text string, maxChars int) []string {
	if maxChars <= 0 || len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	for len(text) > maxChars {
		cut := lastBreak(text[:maxChars])
		if cut <= 0 {
			cut = maxChars
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], " \n"))
		text = strings.TrimLeft(text[cut:], " \n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func lastBreak(s string) int {
	if i := strings.LastIndex(s, "\n"); i > 0 {
		return i + 1
	}
	if i := strings.LastIndex(s, " "); i > 0 {
		return i + 1
	}
	return len(s)
}
