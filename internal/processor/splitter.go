package processor

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SplitMessage splits text into pieces of at most maxLen bytes whose
// concatenation reproduces text byte for byte. Break points prefer newlines,
// then sentence terminators, then whitespace, and never land inside a UTF-8
// sequence; the separator stays with the leading piece.
func SplitMessage(text string, maxLen int) []string {
	if text == "" {
		return nil
	}
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}

	var pieces []string
	remaining := text
	for len(remaining) > maxLen {
		cut := breakPoint(remaining, maxLen)
		pieces = append(pieces, remaining[:cut])
		remaining = remaining[cut:]
	}
	if remaining != "" {
		pieces = append(pieces, remaining)
	}
	return pieces
}

func breakPoint(text string, maxLen int) int {
	window := text[:maxLen]

	if idx := strings.LastIndexByte(window, '\n'); idx > 0 {
		return idx + 1
	}
	for _, ending := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, ending); idx > 0 {
			return idx + len(ending)
		}
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		_, size := utf8.DecodeRuneInString(window[idx:])
		return idx + size
	}

	// Hard break, nudged back onto a rune boundary.
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		cut = maxLen
	}
	return cut
}

// chunkAttachments groups attachment references into per-message batches.
func chunkAttachments(attachments []string, perMessage int) [][]string {
	if len(attachments) == 0 {
		return nil
	}
	if perMessage <= 0 {
		return [][]string{attachments}
	}
	var groups [][]string
	for len(attachments) > perMessage {
		groups = append(groups, attachments[:perMessage])
		attachments = attachments[perMessage:]
	}
	return append(groups, attachments)
}
