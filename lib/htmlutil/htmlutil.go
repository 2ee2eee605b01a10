package htmlutil

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// GetText concatenates all text nodes under node, unlike goquery's Text()
// it also works on raw <script> contents.
func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

// ScriptTexts returns the trimmed contents of every script element matching
// selector, empty scripts are skipped.
func ScriptTexts(doc *goquery.Document, selector string) []string {
	var out []string
	for _, node := range doc.Find(selector).Nodes {
		text := strings.TrimSpace(GetText(node))
		if text == "" {
			continue
		}
		out = append(out, text)
	}
	return out
}
