// Package parser turns upstream HTML into candidate issues and issue details.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// ExcerptLength bounds the raw-response excerpt attached to an empty listing.
const ExcerptLength = 500

var (
	entryPattern = regexp.MustCompile(`^([A-Za-z]+\.? \d{1,2}, \d{4}) - (.+)$`)
	dateLayouts  = []string{"January 2, 2006", "Jan 2, 2006"}
)

// Config locates issue links inside the archive listing.
type Config struct {
	BaseURL    string
	LinkPrefix string
}

// ListingParser extracts candidate issues from the archive listing page.
type ListingParser struct {
	base       *url.URL
	linkPrefix string
	logger     *zap.Logger
}

// NewListingParser validates cfg and builds a parser.
func NewListingParser(cfg Config, logger *zap.Logger) (*ListingParser, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.LinkPrefix == "" {
		return nil, fmt.Errorf("link prefix is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingParser{base: base, linkPrefix: cfg.LinkPrefix, logger: logger.Named("parser")}, nil
}

// Parse returns candidates in document order. Entries whose text does not match
// "<Month> <Day>, <Year> - <Title>" or whose date cannot be parsed are skipped.
// A listing with no usable entries yields *newsletter.EmptyListingError.
func (p *ListingParser) Parse(html []byte) ([]newsletter.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	links := doc.Find(fmt.Sprintf(`a[href^=%q]`, p.linkPrefix))
	p.logger.Debug("issue links found", zap.Int("links", links.Length()))

	seen := make(map[string]struct{}, links.Length())
	candidates := make([]newsletter.Candidate, 0, links.Length())
	links.Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		text := collapseWhitespace(link.Parent().Text())
		match := entryPattern.FindStringSubmatch(text)
		if match == nil {
			p.logger.Info("skipping listing entry", zap.String("href", href), zap.String("text", truncate(text, 120)))
			return
		}
		date, err := parseDate(match[1])
		if err != nil {
			p.logger.Warn("skipping listing entry with unparseable date",
				zap.String("href", href), zap.String("date", match[1]), zap.Error(err))
			return
		}
		absolute, err := p.resolve(href)
		if err != nil {
			p.logger.Warn("skipping listing entry with bad url", zap.String("href", href), zap.Error(err))
			return
		}
		if _, dup := seen[absolute]; dup {
			return
		}
		seen[absolute] = struct{}{}
		candidates = append(candidates, newsletter.Candidate{
			Title:    strings.TrimSpace(match[2]),
			DateText: match[1],
			Date:     date,
			URL:      absolute,
		})
	})

	if len(candidates) == 0 {
		return nil, &newsletter.EmptyListingError{
			LinksFound: links.Length(),
			Excerpt:    truncate(string(html), ExcerptLength),
		}
	}
	return candidates, nil
}

func (p *ListingParser) resolve(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	return p.base.ResolveReference(ref).String(), nil
}

func parseDate(text string) (time.Time, error) {
	cleaned := normalizeMonth(strings.Replace(text, ".", "", 1))
	var lastErr error
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, cleaned)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse date %q: %w", text, lastErr)
}

// normalizeMonth shortens four-letter abbreviations such as "Sept" to the
// three-letter form time.Parse accepts. Full names (June, July) are kept.
func normalizeMonth(text string) string {
	month, rest, ok := strings.Cut(text, " ")
	if !ok || len(month) != 4 {
		return text
	}
	if _, err := time.Parse("January", month); err == nil {
		return text
	}
	return month[:3] + " " + rest
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate returns at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
