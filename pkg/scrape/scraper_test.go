package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!doctype html>
<html>
<head>
  <title>Fallback title</title>
  <meta property="og:title" content="OG title">
  <meta name="author" content="Ada Lovelace">
  <script>var x = 1;</script>
</head>
<body>
  <header><h1>Site chrome</h1></header>
  <nav><p>Home | About</p></nav>
  <article>
    <h2>Engines of thought</h2>
    <p>The analytical   engine weaves <em>algebraic</em> patterns.</p>
    <blockquote>We may say most aptly</blockquote>
    <ul><li>First point</li><li>Second point</li></ul>
    <figure><img src="x.png" alt="Diagram of the engine"><figcaption>Figure 1</figcaption></figure>
    <img src="tiny.png" alt="icon">
    <div><p>Nested paragraph.</p></div>
    <form><p>Subscribe now</p></form>
  </article>
  <footer><p>Copyright</p></footer>
</body>
</html>`

func TestExtract(t *testing.T) {
	art, err := Extract(strings.NewReader(samplePage))
	require.NoError(t, err)

	// The header h1 is the first h1 in the document.
	assert.Equal(t, "Site chrome", art.Title)
	assert.Equal(t, "Ada Lovelace", art.Author)

	want := strings.Join([]string{
		"Engines of thought",
		"",
		"The analytical engine weaves algebraic patterns.",
		"",
		`"We may say most aptly"`,
		"",
		"- First point",
		"",
		"- Second point",
		"",
		"[Image: Diagram of the engine]",
		"",
		"[Caption: Figure 1]",
		"",
		"Nested paragraph.",
	}, "\n")
	assert.Equal(t, want, art.Content)
	assert.NotContains(t, art.Content, "Subscribe")
	assert.NotContains(t, art.Content, "Copyright")
	assert.NotContains(t, art.Content, "icon")
}

func TestExtract_TitleFallbacks(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{"og title", `<html><head><meta property="og:title" content="OG"><title>T</title></head><body><p>x</p></body></html>`, "OG"},
		{"twitter title", `<html><head><meta name="twitter:title" content="TW"><title>T</title></head><body><p>x</p></body></html>`, "TW"},
		{"title tag", `<html><head><title> Plain </title></head><body><p>x</p></body></html>`, "Plain"},
		{"default", `<html><body><p>x</p></body></html>`, DefaultTitle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art, err := Extract(strings.NewReader(tt.page))
			require.NoError(t, err)
			assert.Equal(t, tt.want, art.Title)
		})
	}
}

func TestExtract_AuthorFallbacks(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{"article author", `<html><head><meta property="article:author" content="Grace"></head><body><p>x</p></body></html>`, "Grace"},
		{"span author", `<html><body><span class="byline author">Alan</span><p>x</p></body></html>`, "Alan"},
		{"rel author", `<html><body><a rel="author" href="/a">Barbara</a><p>x</p></body></html>`, "Barbara"},
		{"none", `<html><body><p>x</p></body></html>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art, err := Extract(strings.NewReader(tt.page))
			require.NoError(t, err)
			assert.Equal(t, tt.want, art.Author)
		})
	}
}

func TestExtract_ContentRootPreference(t *testing.T) {
	page := `<html><body><p>outside</p><div class="post-content"><p>inside</p></div></body></html>`
	art, err := Extract(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, "inside", art.Content)
}

func TestExtract_NoContent(t *testing.T) {
	_, err := Extract(strings.NewReader(`<html><body><script>x()</script></body></html>`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestScraper_Scrape(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	s := New(Config{}, nil)
	art, err := s.Scrape(context.Background(), srv.URL+"/post")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/post", art.URL)
	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Contains(t, art.Content, "algebraic")
}

func TestScraper_Scrape_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := New(Config{}, nil).Scrape(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "410")
}

func TestScraper_Validate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/moved":
			http.Redirect(w, r, "/ok", http.StatusFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := New(Config{}, nil)
	ctx := context.Background()
	assert.True(t, s.Validate(ctx, srv.URL+"/ok"))
	assert.True(t, s.Validate(ctx, srv.URL+"/moved"))
	assert.False(t, s.Validate(ctx, srv.URL+"/missing"))
	assert.False(t, s.Validate(ctx, "ftp://example.com/file"))
	assert.False(t, s.Validate(ctx, "not a url"))
}

func TestCheckURL(t *testing.T) {
	assert.NoError(t, CheckURL("https://example.com/a"))
	assert.NoError(t, CheckURL("http://localhost:8080"))
	assert.Error(t, CheckURL("example.com"))
	assert.Error(t, CheckURL("mailto:a@b.c"))
	assert.Error(t, CheckURL("https://"))
}
