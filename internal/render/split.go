package render

import (
	"strings"
	"unicode/utf8"
)

// DefaultLimit is the working per-message budget. Telegram caps a message
// at 4096 characters; 4000 leaves headroom for markup and repair tags.
const DefaultLimit = 4000

const (
	// Cut candidates run from the limit down to this share of it.
	splitFloorFactor = 0.7
	splitStep        = 10
	// Share of the limit used for the forced cut when no candidate
	// yields a balanced prefix.
	degradedFactor = 0.8
	// Shrink factor and retry bound when repair tags overflow the limit.
	repairShrinkFactor = 0.9
	repairMaxRetries   = 3
)

// breakGroups are the natural cut points in priority order: paragraph
// break, line break, sentence end, clause comma, plain space.
var breakGroups = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? "},
	{", "},
	{" "},
}

// Split cuts text into chunks of at most maxLength bytes, each one
// individually balanced. Cuts prefer natural text boundaries; when no
// balanced boundary exists the tags open at the cut are force-closed and
// reopened at the head of the next chunk. Only the bounded repair escape
// valve may push a single chunk past the limit. Input that is empty or
// whitespace-only produces no chunks.
func Split(text string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = DefaultLimit
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= maxLength {
		return []string{text}
	}

	var chunks []string
	for len(text) > maxLength {
		offset := findSplitOffset(text, maxLength)
		prefix := strings.TrimSpace(text[:offset])
		rest := strings.TrimSpace(text[offset:])

		if IsBalanced(prefix) {
			if prefix != "" {
				chunks = append(chunks, prefix)
			}
			text = rest
			continue
		}

		prefix, rest = repairSplit(text, offset, maxLength)
		if len(rest) >= len(text) {
			// Repair could not advance, cut hard at the budget.
			cut := runeFloor(text, alignRune(text, maxLength))
			prefix, rest = strings.TrimSpace(text[:cut]), strings.TrimSpace(text[cut:])
		}
		if prefix != "" {
			chunks = append(chunks, prefix)
		}
		text = rest
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// findSplitOffset returns the largest cut position at or below maxLength
// whose prefix is balanced, preferring natural boundaries. When every
// candidate fails it returns a degraded cut near 0.8*maxLength and leaves
// the tag repair to the caller. The result is always at least one rune wide
// so the caller makes progress even when the limit is narrower than the
// first rune. Deterministic for a given input pair.
func findSplitOffset(text string, maxLength int) int {
	floor := int(float64(maxLength) * splitFloorFactor)
	for n := maxLength; n >= floor; n -= splitStep {
		cut := snapBeforeTag(text, naturalBreak(text, n, floor))
		if cut <= 0 {
			continue
		}
		if IsBalanced(text[:cut]) {
			return cut
		}
	}
	cut := snapBeforeTag(text, naturalBreak(text, int(float64(maxLength)*degradedFactor), floor))
	if cut <= 0 {
		cut = alignRune(text, maxLength)
	}
	return runeFloor(text, cut)
}

// naturalBreak finds the best cut at or below limit, trying the break
// groups in priority order and rejecting breaks below floor so chunks
// never get degenerately small. With no usable break the cut lands hard on
// the limit.
func naturalBreak(text string, limit, floor int) int {
	if limit >= len(text) {
		return len(text)
	}
	limit = alignRune(text, limit)
	window := text[:limit]
	for _, group := range breakGroups {
		best := -1
		for _, mark := range group {
			if i := strings.LastIndex(window, mark); i >= 0 && i+len(mark) > best {
				best = i + len(mark)
			}
		}
		if best >= floor {
			return best
		}
	}
	return limit
}

// snapBeforeTag moves offset back to the '<' of a tag the offset would
// otherwise land inside. A '<' that does not look like a tag start is
// plain text and left alone.
func snapBeforeTag(text string, offset int) int {
	open := strings.LastIndexByte(text[:offset], '<')
	if open == -1 || strings.ContainsRune(text[open:offset], '>') {
		return offset
	}
	rest := text[open+1 : offset]
	if strings.HasPrefix(rest, "/") {
		rest = rest[1:]
	}
	if rest == "" || !isNameByte(rest[0], true) {
		return offset
	}
	return open
}

// repairSplit force-closes the tags open at offset so the prefix stands
// alone, and reopens them with their attributes at the head of the rest.
// If the closing tags would push the chunk past maxLength the offset is
// shrunk and recomputed a bounded number of times; after that the overflow
// is accepted so splitting always terminates.
func repairSplit(text string, offset, maxLength int) (string, string) {
	for attempt := 0; ; attempt++ {
		prefix := strings.TrimSpace(text[:offset])
		_, open := scanTags(prefix)
		closing := closingTags(open)
		if len(prefix)+len(closing) <= maxLength || attempt >= repairMaxRetries {
			tail := strings.TrimSpace(text[offset:])
			if tail == "" {
				return prefix + closing, ""
			}
			return prefix + closing, reopenTags(open) + tail
		}
		offset = snapBeforeTag(text, alignRune(text, int(float64(offset)*repairShrinkFactor)))
	}
}

// closingTags renders one closing tag per open tag, innermost first.
func closingTags(open []token) string {
	var b strings.Builder
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString("</")
		b.WriteString(open[i].name)
		b.WriteString(">")
	}
	return b.String()
}

// reopenTags renders the open tags in their original order and raw form,
// so a continued code block keeps its language class.
func reopenTags(open []token) string {
	var b strings.Builder
	for _, tok := range open {
		b.WriteString(tok.raw)
	}
	return b.String()
}

// runeFloor raises cut to the width of the first rune when rune alignment
// pushed it to zero, which happens when the limit is narrower than that rune.
func runeFloor(s string, cut int) int {
	if cut > 0 || s == "" {
		return cut
	}
	_, w := utf8.DecodeRuneInString(s)
	return w
}

// alignRune moves i down to the nearest rune boundary so a hard cut never
// splits a character.
func alignRune(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
