package crawler

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ExtractLinks parses HTML and returns all absolute http(s) hrefs, resolving
// relative links against baseURL. Malformed documents yield whatever links
// the tokenizer could recover.
func ExtractLinks(body []byte, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil {
					continue
				}
				abs := base.ResolveReference(ref)
				if abs.Scheme == "http" || abs.Scheme == "https" {
					links = append(links, abs.String())
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}
