package feed

import (
	"fmt"
	"html/template"
	"io"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

var embedTemplate = template.Must(template.New("embed").Parse(`<div class="newsletter-archive-embed">
<h3><a href="{{.Site.URL}}" target="_blank" rel="noopener">{{.Site.Title}}</a></h3>
<ul>
{{- range .Issues}}
<li>
{{- if .Thumbnail}}<img src="{{.Thumbnail}}" alt="" loading="lazy" width="64">{{end -}}
<a href="{{.URL}}" target="_blank" rel="noopener">{{.Title}}</a>
<time datetime="{{.IssueDate.Format "2006-01-02"}}">{{.IssueDate.Format "January 2, 2006"}}</time>
{{- if .Description}}<p>{{.Description}}</p>{{end}}
</li>
{{- else}}
<li>No newsletters yet.</li>
{{- end}}
</ul>
</div>
`))

// Embed writes an HTML fragment listing issues, suitable for inclusion in third-party pages.
func Embed(w io.Writer, site Site, issues []newsletter.Issue) error {
	if err := embedTemplate.Execute(w, struct {
		Site   Site
		Issues []newsletter.Issue
	}{Site: site, Issues: issues}); err != nil {
		return fmt.Errorf("render embed: %w", err)
	}
	return nil
}
