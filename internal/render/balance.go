package render

import "strings"

// scanTags walks the token list and reports whether s is balanced, along
// with the tags still open at the end, oldest first.
//
// A closing tag must match the innermost open tag; any mismatch marks the
// string unbalanced. The open list is still maintained best-effort on a
// mismatch (the nearest open tag of that name is dropped) so repair logic
// can close whatever genuinely remains open.
func scanTags(s string) (bool, []token) {
	balanced := true
	var open []token
	for _, tok := range tokenize(s) {
		switch tok.kind {
		case tokenOpen:
			open = append(open, tok)
		case tokenClose:
			if n := len(open); n > 0 && open[n-1].name == tok.name {
				open = open[:n-1]
				continue
			}
			balanced = false
			for i := len(open) - 1; i >= 0; i-- {
				if open[i].name == tok.name {
					open = append(open[:i], open[i+1:]...)
					break
				}
			}
		}
	}
	return balanced && len(open) == 0, open
}

// IsBalanced reports whether every tag opened in s is closed again in
// nesting order. Tag names match case-insensitively, self-closing tags are
// ignored, and malformed fragments count as plain text.
func IsBalanced(s string) bool {
	balanced, _ := scanTags(s)
	return balanced
}

// OpenTags returns the names of tags still open at the end of s, in the
// order they were opened.
func OpenTags(s string) []string {
	_, open := scanTags(s)
	names := make([]string, len(open))
	for i, tok := range open {
		names[i] = tok.name
	}
	return names
}

// StripTags drops all markup from s and unescapes the entities Convert
// produces, leaving plain text for transports that reject the HTML.
func StripTags(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, tok := range tokenize(s) {
		if tok.kind == tokenText {
			b.WriteString(tok.raw)
		}
	}
	out := b.String()
	out = strings.ReplaceAll(out, "&lt;", "<")
	out = strings.ReplaceAll(out, "&gt;", ">")
	out = strings.ReplaceAll(out, "&amp;", "&")
	return out
}
