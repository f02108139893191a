package htmlutil

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// GetText returns the concatenated text content of a node's subtree.
func GetText(node *html.Node) string {
	var buffer strings.Builder
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *strings.Builder) {
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

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText strips non-printable runes, trims the ends and collapses
// runs of inner whitespace to a single space.
func CleanText(s string) string {
	s = removeNonPrintable(s)
	s = strings.Trim(s, " \t\n")
	return innerWhitespace.ReplaceAllString(s, " ")
}

// upstream sites serve error pages and interstitials with a 200, a
// real document carries all of these
var documentMarkers = []string{"<html", "<head", "<title", "<body"}

// CheckDocument reports whether markup looks like a complete HTML
// document. The check runs on the raw markup because parsers
// synthesize html/head/body elements for any input.
func CheckDocument(markup string) error {
	lowered := strings.ToLower(markup)
	for _, marker := range documentMarkers {
		if !strings.Contains(lowered, marker) {
			return fmt.Errorf("markup is missing %q, not a full document", marker+">")
		}
	}
	return nil
}
