package render

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// Fenced code blocks, optional language tag on the opening fence.
	fenceRe = regexp.MustCompile("(?s)```(\\w*)\\n?(.*?)```")

	// Blockquote lines.
	quoteRe = regexp.MustCompile(`(?m)^> (.+)$`)

	// Headings: level 1 gets its own glyph, levels 2 and 3 share one.
	h1Re  = regexp.MustCompile(`(?m)^# (.+)$`)
	h23Re = regexp.MustCompile(`(?m)^#{2,3} (.+)$`)

	// Bold, strikethrough, inline code.
	boldRe   = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	strikeRe = regexp.MustCompile(`~~([^~]+)~~`)
	codeRe   = regexp.MustCompile("`([^`]+)`")

	// Italic only when both asterisks border non-whitespace, so a bare
	// '*' between words is left alone.
	italicRe = regexp.MustCompile(`\*([^\s*](?:[^*]*[^\s*])?)\*`)

	// Links: match [label](url), label may be empty.
	linkRe = regexp.MustCompile(`\[([^\[\]]*)\]\(([^)]+)\)`)

	// Numbered list markers.
	listRe = regexp.MustCompile(`(?m)^\d+\. `)

	// Runs of blank lines.
	newlineRe = regexp.MustCompile(`\n{4,}`)
)

// Convert renders a conservative markdown subset as Telegram HTML. The
// output uses only the tags Telegram accepts: b, i, s, code, pre together
// with code[class], a[href] and blockquote. Empty input yields "".
func Convert(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	// Step 1: extract fenced code blocks into placeholders before any
	// other processing touches their content.
	var blocks []string
	text = fenceRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := fenceRe.FindStringSubmatch(m)
		blocks = append(blocks, renderFence(sub[1], sub[2]))
		return fmt.Sprintf("{{PRE%d}}", len(blocks)-1)
	})

	// Step 2: extract blockquote lines. Their content is escaped here so
	// the wrapper tags survive the escape pass below.
	var quotes []string
	text = quoteRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := quoteRe.FindStringSubmatch(m)
		quotes = append(quotes, "<blockquote>"+escapeHTML(sub[1])+"</blockquote>")
		return fmt.Sprintf("{{QUOTE%d}}", len(quotes)-1)
	})

	// Step 3: escape what remains, ampersand first.
	text = escapeHTML(text)

	// Step 4: ordered markdown translations over the escaped text.
	text = h1Re.ReplaceAllString(text, "📍 <b>$1</b>")
	text = h23Re.ReplaceAllString(text, "📌 <b>$1</b>")
	text = boldRe.ReplaceAllString(text, "<b>$1</b>")
	text = italicRe.ReplaceAllString(text, "<i>$1</i>")
	text = strikeRe.ReplaceAllString(text, "<s>$1</s>")
	text = codeRe.ReplaceAllString(text, "<code>$1</code>")
	text = linkRe.ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = listRe.ReplaceAllString(text, "• ")
	text = newlineRe.ReplaceAllString(text, "\n\n\n")

	// Step 5: restore the protected segments in place.
	for i, block := range blocks {
		text = strings.Replace(text, fmt.Sprintf("{{PRE%d}}", i), block, 1)
	}
	for i, quote := range quotes {
		text = strings.Replace(text, fmt.Sprintf("{{QUOTE%d}}", i), quote, 1)
	}
	return text
}

func renderFence(lang, body string) string {
	body = escapeHTML(strings.TrimSpace(body))
	if lang == "" {
		return "<pre>" + body + "</pre>"
	}
	return fmt.Sprintf(`<pre><code class="language-%s">%s</code></pre>`, lang, body)
}

// escapeHTML escapes the three characters Telegram's HTML parser cares
// about. Ampersand goes first so produced entities are not escaped twice.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
