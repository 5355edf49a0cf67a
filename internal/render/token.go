// Package render converts assistant markdown to Telegram-safe HTML and
// splits long documents into bounded, individually balanced chunks.
package render

import "strings"

type tokenKind int

const (
	tokenText tokenKind = iota
	tokenOpen
	tokenClose
	tokenSelfClose
)

// token is one lexed element of an HTML string. Open tags keep their raw
// source slice so a repair can reopen them with attributes intact.
type token struct {
	kind  tokenKind
	name  string // lower-cased tag name, empty for text runs
	raw   string
	start int
	end   int
}

// tokenize scans s left to right into a flat token list. Anything that does
// not parse as a tag stays inside the surrounding text run, so malformed
// input never fails the scan.
func tokenize(s string) []token {
	var tokens []token
	textStart := 0
	i := 0
	for i < len(s) {
		if s[i] != '<' {
			i++
			continue
		}
		tag, ok := lexTag(s, i)
		if !ok {
			i++
			continue
		}
		if i > textStart {
			tokens = append(tokens, token{kind: tokenText, raw: s[textStart:i], start: textStart, end: i})
		}
		tokens = append(tokens, tag)
		i = tag.end
		textStart = i
	}
	if textStart < len(s) {
		tokens = append(tokens, token{kind: tokenText, raw: s[textStart:], start: textStart, end: len(s)})
	}
	return tokens
}

// lexTag reads one tag starting at the '<' at position i. It reports false
// for anything that is not a complete tag, such as a stray '<' or a tag cut
// off by the end of the string.
func lexTag(s string, i int) (token, bool) {
	j := i + 1
	closing := false
	if j < len(s) && s[j] == '/' {
		closing = true
		j++
	}
	nameStart := j
	for j < len(s) && isNameByte(s[j], j == nameStart) {
		j++
	}
	if j == nameStart {
		return token{}, false
	}
	name := strings.ToLower(s[nameStart:j])
	for j < len(s) && s[j] != '>' && s[j] != '<' {
		j++
	}
	if j >= len(s) || s[j] != '>' {
		return token{}, false
	}
	kind := tokenOpen
	if closing {
		kind = tokenClose
	} else if s[j-1] == '/' {
		kind = tokenSelfClose
	}
	return token{kind: kind, name: name, raw: s[i : j+1], start: i, end: j + 1}, true
}

// isNameByte accepts tag name characters: a leading letter, then letters or
// digits.
func isNameByte(b byte, first bool) bool {
	if b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' {
		return true
	}
	return !first && b >= '0' && b <= '9'
}
