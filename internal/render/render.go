// Package render builds the wiki payloads for synced videos.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/starford/tubestack/internal/embed"
	"github.com/starford/tubestack/internal/models"
)

const pageTemplate = `
<div style="text-align: center; margin-bottom: 25px;">
    <iframe width="853" height="480"
        src="{{.EmbedURL}}"
        title="{{.Title}}"
        frameborder="0"
        allow="accelerometer; autoplay; clipboard-write; encrypted-media; gyroscope; picture-in-picture"
        allowfullscreen>
    </iframe>
</div>

<p style="font-size: 1.2em; font-weight: bold;">Video Description:</p>
<hr>
<p>{{.Description}}</p>

<p style="font-size: 1.2em; font-weight: bold; margin-top: 20px;">Video Details:</p>
<ul>
    <li><strong>YouTube URL:</strong> <a href="{{.WatchURL}}" target="_blank">{{.WatchURL}}</a></li>
    <li><strong>Published:</strong> {{if .PublishedAt}}<time datetime="{{.PublishedAt}}">{{.Published}}</time>{{else}}{{.Published}}{{end}}</li>
    <li><strong>Channel:</strong> {{.Channel}}</li>
</ul>
`

const publishedLayout = "2006-01-02 15:04 MST"

var pageTmpl = template.Must(template.New("page").Parse(pageTemplate))

type pageData struct {
	Title       string
	EmbedURL    string
	WatchURL    string
	Description template.HTML
	Published   string
	PublishedAt string
	Channel     string
}

// Options controls how pages are titled.
type Options struct {
	AppendVideoID bool
}

// Title returns the page name for v.
func Title(v models.Video, opts Options) string {
	title := strings.TrimSpace(v.Title)
	if opts.AppendVideoID {
		title = fmt.Sprintf("%s (YouTube ID: %s)", title, v.ID)
	}
	return title
}

// PageHTML renders the page body embedding v.
func PageHTML(v models.Video, opts Options) (string, error) {
	data := pageData{
		Title:       Title(v, opts),
		EmbedURL:    embed.URL(v.ID),
		WatchURL:    embed.WatchURL(v.ID),
		Description: descriptionHTML(v.Description),
		Published:   v.PublishedAt,
		Channel:     v.ChannelTitle,
	}
	if t := v.PublishedTime(); !t.IsZero() {
		data.Published = t.UTC().Format(publishedLayout)
		data.PublishedAt = t.UTC().Format(time.RFC3339)
	}
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render: page %s: %w", v.ID, err)
	}
	return buf.String(), nil
}

// Tags converts video tags into wiki page tags.
func Tags(v models.Video) []models.Tag {
	tags := make([]models.Tag, 0, len(v.Tags))
	for _, t := range v.Tags {
		if t = strings.TrimSpace(t); t == "" {
			continue
		}
		tags = append(tags, models.Tag{Name: t, Value: "", Order: 0})
	}
	return tags
}

// ChapterDescription is the description given to chapters created for a playlist.
func ChapterDescription(playlistTitle string) string {
	return "Videos from YouTube playlist: " + playlistTitle
}

// descriptionHTML escapes each line and joins them with <br>.
func descriptionHTML(desc string) template.HTML {
	desc = strings.ReplaceAll(desc, "\r\n", "\n")
	lines := strings.Split(desc, "\n")
	for i, l := range lines {
		lines[i] = template.HTMLEscapeString(l)
	}
	return template.HTML(strings.Join(lines, "<br>"))
}
