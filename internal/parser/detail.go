package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// ExtractDetails pulls the thumbnail and flattened body text out of an issue page.
// The thumbnail is the second <img> element in document order; its src is resolved
// against pageURL. HasDetails is true when any content text remains.
func ExtractDetails(pageURL string, html []byte) (newsletter.Details, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return newsletter.Details{}, fmt.Errorf("parse issue html: %w", err)
	}

	var details newsletter.Details
	if images := doc.Find("img"); images.Length() > 1 {
		src := strings.TrimSpace(images.Eq(1).AttrOr("src", ""))
		if src != "" {
			details.Thumbnail = newsletter.StringPtr(resolveAgainst(pageURL, src))
		}
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body.Find("script, style, noscript, template").Remove()
	content := collapseWhitespace(body.Text())
	details.Content = newsletter.StringPtr(content)
	details.HasDetails = content != ""
	return details, nil
}

func resolveAgainst(pageURL, ref string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
