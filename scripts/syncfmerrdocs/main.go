// Package main scrapes the Claris FileMaker error code reference and
// saves it as docs/fm-error-codes.md.
//
// The reference page holds one big table of numeric codes and their
// descriptions. The table is extracted, converted to markdown and
// cleaned up; the result is committed so the docs work offline.
//
// Usage:
//
//	go run ./scripts/syncfmerrdocs
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

// Configuration.
const (
	docsURL    = "https://help.claris.com/en/pro-help/content/error-codes.html"
	outputFile = "docs/fm-error-codes.md"
)

// Pre-compiled regex patterns.
var (
	reExcessiveNewlines = regexp.MustCompile(`\n{3,}`)
	reTableSpaces       = regexp.MustCompile(`[ \t]+\|`)
)

// ErrorCode is one row of the reference table.
type ErrorCode struct {
	Code        int
	Description string
}

func main() {
	log.Printf("Scraping FileMaker error codes from %s", docsURL)

	htmlContent, err := fetchPage(docsURL)
	if err != nil {
		log.Fatalf("Failed to fetch page: %v", err)
	}

	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		log.Fatalf("Failed to parse HTML: %v", err)
	}

	codes := extractErrorCodes(doc)
	if len(codes) == 0 {
		log.Fatal("No error code rows found; the page layout may have changed")
	}
	log.Printf("Found %d error codes", len(codes))

	content := renderMarkdown(codes)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	if err := os.WriteFile(outputFile, []byte(content), 0o644); err != nil {
		log.Fatalf("Failed to save %s: %v", outputFile, err)
	}

	log.Printf("Success! Saved %d error codes to %s", len(codes), outputFile)
}

// fetchPage fetches HTML content from a URL.
func fetchPage(pageURL string) (string, error) {
	client := &http.Client{Timeout: 30 * time.Second}

	req, err := http.NewRequest(http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; FMErrDocsScraper/1.0)")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	return string(body), nil
}

// extractErrorCodes pulls code/description pairs out of every table on
// the page. Rows whose first cell is not a number are headers or prose
// and are skipped.
func extractErrorCodes(doc *html.Node) []ErrorCode {
	var codes []ErrorCode
	seen := map[int]bool{}

	var walkRows func(*html.Node)
	walkRows = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			cells := childElements(n, "td")
			if len(cells) >= 2 {
				code, err := strconv.Atoi(strings.TrimSpace(getTextContent(cells[0])))
				if err == nil && !seen[code] {
					seen[code] = true
					codes = append(codes, ErrorCode{
						Code:        code,
						Description: cellMarkdown(cells[1]),
					})
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkRows(c)
		}
	}
	walkRows(doc)

	return codes
}

// cellMarkdown converts one table cell to single-line markdown.
func cellMarkdown(cell *html.Node) string {
	md, err := htmltomarkdown.ConvertString(renderNode(cell))
	if err != nil {
		return getTextContent(cell)
	}
	md = strings.ReplaceAll(md, "\n", " ")
	md = strings.ReplaceAll(md, "|", `\|`)
	return strings.Join(strings.Fields(md), " ")
}

// renderMarkdown renders the collected codes as one markdown table.
func renderMarkdown(codes []ErrorCode) string {
	var sb strings.Builder
	sb.WriteString("# FileMaker Data API error codes\n\n")
	sb.WriteString("Generated by scripts/syncfmerrdocs from the Claris error code reference.\n")
	sb.WriteString("Do not edit by hand; re-run the script to refresh.\n\n")
	sb.WriteString("Source: ")
	sb.WriteString(docsURL)
	sb.WriteString("\n\n")
	sb.WriteString("| Code | Description |\n")
	sb.WriteString("|------|-------------|\n")
	for _, ec := range codes {
		fmt.Fprintf(&sb, "| %d | %s |\n", ec.Code, ec.Description)
	}

	content := sb.String()
	content = reExcessiveNewlines.ReplaceAllString(content, "\n\n")
	content = reTableSpaces.ReplaceAllString(content, " |")
	return strings.TrimSpace(content) + "\n"
}

// childElements returns the direct and nested children with the given
// tag name, in document order.
func childElements(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return out
}

// getTextContent returns the text content of a node and its children.
func getTextContent(n *html.Node) string {
	var sb strings.Builder
	var getText func(*html.Node)
	getText = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			getText(c)
		}
	}
	getText(n)
	return strings.TrimSpace(sb.String())
}

// renderNode renders an HTML node back to string.
func renderNode(n *html.Node) string {
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		return ""
	}
	return sb.String()
}
