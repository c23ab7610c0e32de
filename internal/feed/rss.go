// Package feed renders the archive as an RSS 2.0 feed and an embeddable HTML fragment.
package feed

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/feeds"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// Site describes the public archive.
type Site struct {
	Title       string
	URL         string
	Description string
}

// RSS renders issues (newest first) as an RSS 2.0 document.
func RSS(site Site, issues []newsletter.Issue, generatedAt time.Time) (string, error) {
	f := &feeds.Feed{
		Title:       site.Title,
		Link:        &feeds.Link{Href: site.URL},
		Description: site.Description,
		Created:     generatedAt,
		Items:       make([]*feeds.Item, 0, len(issues)),
	}
	if len(issues) > 0 {
		f.Updated = issues[0].IssueDate
	}
	for _, issue := range issues {
		item := &feeds.Item{
			Title:       issue.Title,
			Link:        &feeds.Link{Href: issue.URL},
			Id:          strconv.FormatInt(issue.ID, 10),
			Description: newsletter.Deref(issue.Description),
			Created:     issue.IssueDate,
		}
		if issue.Thumbnail != nil {
			item.Enclosure = &feeds.Enclosure{Url: *issue.Thumbnail, Type: imageType(*issue.Thumbnail), Length: "0"}
		}
		f.Items = append(f.Items, item)
	}
	out, err := f.ToRss()
	if err != nil {
		return "", fmt.Errorf("render rss: %w", err)
	}
	return out, nil
}

func imageType(url string) string {
	switch ext := extension(url); ext {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func extension(url string) string {
	for i := len(url) - 1; i >= 0; i-- {
		switch url[i] {
		case '.':
			return url[i+1:]
		case '/', '?':
			return ""
		}
	}
	return ""
}
