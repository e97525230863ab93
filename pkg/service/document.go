package service

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// fontFamily is the name assembled documents register the served font under.
const fontFamily = "rasterd"

// BuildDocument prepares HTML content for rendering. Content that already is
// a full document passes through untouched; fragments are wrapped in a
// minimal shell with zeroed margins and, when fontURL is set, a @font-face
// rule loading the served font.
func BuildDocument(content, fontURL string) string {
	if isFullDocument(content) {
		return content
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<style>\n")
	if fontURL != "" {
		fmt.Fprintf(&b, "@font-face { font-family: '%s'; src: url('%s'); }\n", fontFamily, fontURL)
		fmt.Fprintf(&b, "html, body { font-family: '%s', sans-serif; margin: 0; padding: 0; }\n", fontFamily)
	} else {
		b.WriteString("html, body { margin: 0; padding: 0; }\n")
	}
	b.WriteString("</style>\n</head>\n<body>\n")
	b.WriteString(content)
	b.WriteString("\n</body>\n</html>\n")
	return b.String()
}

// isFullDocument reports whether the content opens with a document shell
// (doctype or an html/head/body tag) rather than being a bare fragment.
func isFullDocument(content string) bool {
	tokenizer := html.NewTokenizer(strings.NewReader(content))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return false
		case html.DoctypeToken:
			return true
		case html.CommentToken:
			continue
		case html.TextToken:
			if strings.TrimSpace(string(tokenizer.Text())) != "" {
				return false
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "html", "head", "body":
				return true
			}
			return false
		default:
			return false
		}
	}
}
