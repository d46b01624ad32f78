package collector

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

const maxResponseBytes = 10 << 20 // 10 MiB safety cap

// classifyResponse inspects content type and structure instead of trusting
// the portal to send a fixed format: the same endpoint has been observed to
// answer with HTML one day and a spreadsheet the next.
func classifyResponse(resp *http.Response) (RawPayload, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return RawPayload{}, err
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	disposition := strings.ToLower(resp.Header.Get("Content-Disposition"))

	switch {
	case strings.Contains(contentType, "json"):
		var value any
		if err := json.Unmarshal(body, &value); err != nil {
			return RawPayload{}, &ParseError{Kind: PayloadStructured, Err: err}
		}
		return RawPayload{Kind: PayloadStructured, Structured: value}, nil

	case strings.Contains(contentType, "spreadsheet"),
		strings.Contains(contentType, "excel"),
		strings.Contains(disposition, ".xlsx"),
		isXlsxMagic(body):
		return RawPayload{Kind: PayloadSpreadsheet, Spreadsheet: body}, nil

	default:
		return RawPayload{Kind: PayloadTabular, HTML: string(body)}, nil
	}
}

// xlsx files are zip archives; PK magic plus a binary content type is a
// spreadsheet even when the portal labels it octet-stream.
func isXlsxMagic(body []byte) bool {
	return len(body) >= 4 && body[0] == 'P' && body[1] == 'K' && body[2] == 0x03 && body[3] == 0x04
}

// parseHiddenInputs extracts hidden form fields (CSRF and session tokens)
// from a login page.
func parseHiddenInputs(page string) map[string]string {
	fields := make(map[string]string)

	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return fields
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "input" {
			var name, value, inputType string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "name":
					name = attr.Val
				case "value":
					value = attr.Val
				case "type":
					inputType = attr.Val
				}
			}
			if inputType == "hidden" && name != "" {
				fields[name] = value
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return fields
}
