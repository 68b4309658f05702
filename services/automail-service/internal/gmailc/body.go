package gmailc

import (
	"encoding/base64"
	"mime"
	"regexp"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
)

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// extractBody walks the MIME tree and picks the best readable body:
// text/plain if any part has one, otherwise tag-stripped text/html,
// otherwise the snippet Gmail computed.
func extractBody(payload *gmail.MessagePart, snippet string) string {
	var plain, html strings.Builder
	collectParts(payload, &plain, &html)

	if s := strings.TrimSpace(plain.String()); s != "" {
		return s
	}
	if s := strings.TrimSpace(htmlTagPattern.ReplaceAllString(html.String(), "")); s != "" {
		return s
	}
	return strings.TrimSpace(snippet)
}

func collectParts(part *gmail.MessagePart, plain, html *strings.Builder) {
	if part == nil {
		return
	}
	if part.Body != nil && part.Body.Data != "" {
		if data, err := decodeBodyData(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/html":
				html.Write(data)
				html.WriteByte('\n')
			default:
				// text/plain and anything else that carries data.
				plain.Write(data)
				plain.WriteByte('\n')
			}
		}
	}
	for _, sub := range part.Parts {
		collectParts(sub, plain, html)
	}
}

// decodeBodyData decodes the web-safe base64 Gmail uses for part
// bodies. Gmail sometimes omits the padding, so fall back to the raw
// alphabet when the padded decode fails.
func decodeBodyData(s string) ([]byte, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return base64.RawURLEncoding.DecodeString(s)
	}
	return data, nil
}

// decodeHeader decodes RFC 2047 encoded-words in address and subject
// headers, leaving already-plain values untouched.
func decodeHeader(value string) string {
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
