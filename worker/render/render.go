package render

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// ProvenanceImage is one image entry on a provenance page.
type ProvenanceImage struct {
	Index   int
	AltText string
}

// ProvenanceData feeds the public verification page for one post.
type ProvenanceData struct {
	AppName         string
	PostID          string
	Handle          string
	Text            string
	ContentLabels   []string
	Images          []ProvenanceImage
	ExternalPostURI string
	ExternalPostURL string
	PostedAt        time.Time
	CreatedAt       time.Time
	WatermarkMethod string
	EncodedID       string
}

// UserListEntry is one row on a creator's listing page.
type UserListEntry struct {
	PostID          string
	Text            string
	ProvenanceURL   string
	ExternalPostURL string
	CreatedAt       time.Time
}

// UserListData feeds the per-creator listing page served at the stable
// provenance-page-id path.
type UserListData struct {
	AppName    string
	Handle     string
	TotalPosts int
	Entries    []UserListEntry
	UpdatedAt  time.Time
}

// Renderer produces the static HTML persisted to public storage. The pages
// are deliberately self-contained: no scripts, no external assets beyond a
// stylesheet the CDN serves from the same origin.
type Renderer struct {
	provenance *template.Template
	userList   *template.Template
}

func NewRenderer() *Renderer {
	return &Renderer{
		provenance: template.Must(template.New("provenance").Funcs(funcs).Parse(provenanceTemplate)),
		userList:   template.Must(template.New("userlist").Funcs(funcs).Parse(userListTemplate)),
	}
}

var funcs = template.FuncMap{
	"rfc3339": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"human":   func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04 UTC") },
}

func (r *Renderer) ProvenancePage(data ProvenanceData) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.provenance.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render provenance page: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) UserListPage(data UserListData) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.userList.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render user list page: %w", err)
	}
	return buf.Bytes(), nil
}

const provenanceTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Provenance {{.PostID}} - {{.AppName}}</title>
<link rel="stylesheet" href="/site.css">
</head>
<body>
<main class="provenance">
  <h1>Image Provenance Record</h1>
  <dl>
    <dt>Post ID</dt><dd class="mono">{{.PostID}}</dd>
    <dt>Author</dt><dd>@{{.Handle}}</dd>
    <dt>Published</dt><dd><time datetime="{{rfc3339 .PostedAt}}">{{human .PostedAt}}</time></dd>
    <dt>Recorded</dt><dd><time datetime="{{rfc3339 .CreatedAt}}">{{human .CreatedAt}}</time></dd>
    <dt>Original post</dt><dd><a href="{{.ExternalPostURL}}" rel="noopener">{{.ExternalPostURI}}</a></dd>
  </dl>
  <section>
    <h2>Post text</h2>
    <blockquote>{{.Text}}</blockquote>
  </section>
  {{if .ContentLabels}}<section>
    <h2>Content labels</h2>
    <ul>{{range .ContentLabels}}<li>{{.}}</li>{{end}}</ul>
  </section>{{end}}
  {{if .Images}}<section>
    <h2>Images</h2>
    <ol>{{range .Images}}<li>Image {{.Index}}{{if .AltText}}: {{.AltText}}{{end}}</li>{{end}}</ol>
  </section>{{end}}
  {{if .WatermarkMethod}}<section class="technical">
    <h2>Watermark</h2>
    <p>Each image carries an imperceptible watermark embedded with
    <span class="mono">{{.WatermarkMethod}}</span>. The encoded identifier is
    <span class="mono">{{.EncodedID}}</span>; extracting it from a copy of the
    image and matching it against this page proves provenance.</p>
  </section>{{end}}
  <footer><p>{{.AppName}} - Image Provenance Service</p></footer>
</main>
</body>
</html>
`

const userListTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>@{{.Handle}} - {{.AppName}}</title>
<link rel="stylesheet" href="/site.css">
</head>
<body>
<main class="user-list">
  <h1>Posts by @{{.Handle}}</h1>
  <p>{{.TotalPosts}} verified {{if eq .TotalPosts 1}}post{{else}}posts{{end}}.
  Updated <time datetime="{{rfc3339 .UpdatedAt}}">{{human .UpdatedAt}}</time>.</p>
  {{if .Entries}}<ol class="posts">
  {{range .Entries}}<li>
    <time datetime="{{rfc3339 .CreatedAt}}">{{human .CreatedAt}}</time>
    <blockquote>{{.Text}}</blockquote>
    <nav><a href="{{.ProvenanceURL}}">Provenance</a> <a href="{{.ExternalPostURL}}" rel="noopener">Original</a></nav>
  </li>{{end}}
  </ol>{{else}}<p>No verified posts yet.</p>{{end}}
  <footer><p>{{.AppName}} - Image Provenance Service</p></footer>
</main>
</body>
</html>
`
