package messaging

import (
	"html"
	"regexp"
	"strings"
)

var twimlMessageRE = regexp.MustCompile(`(?is)<Message(?:\s[^>]*)?>(.*?)</Message>`)

// ExtractTwiMLMessage returns the text of the first <Message> element embedded in a
// TwiML-style payload. Entities are unescaped and surrounding whitespace trimmed.
func ExtractTwiMLMessage(payload string) (string, bool) {
	m := twimlMessageRE.FindStringSubmatch(payload)
	if m == nil {
		return "", false
	}
	body := strings.TrimSpace(html.UnescapeString(m[1]))
	if body == "" {
		return "", false
	}
	return body, true
}

// TwiMLMessage wraps text in a minimal TwiML response.
func TwiMLMessage(text string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><Response><Message>` + html.EscapeString(text) + `</Message></Response>`
}
