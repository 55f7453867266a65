package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<!doctype html>
<html><head><title>links</title><link href="http://css.example.com/x.css"></head>
<body>
  <a href="https://b.example.com/2">two</a>
  <a href="HTTP://A.example.com/1">one</a>
  <a href="https://b.example.com/2">dup</a>
  <a href="/relative">rel</a>
  <a href="javascript:void(0)">js</a>
  <a href="mailto:x@example.com">mail</a>
  <a href="http://bad.example.com/has space">space</a>
  <a>no href</a>
  <div><p><a href="http://deep.example.com/nested?q=1#f">nested</a></p></div>
</body></html>`

var want = []string{
	"HTTP://A.example.com/1",
	"http://deep.example.com/nested?q=1#f",
	"https://b.example.com/2",
}

func TestAccept(t *testing.T) {
	assert.True(t, Accept("http://a.com"))
	assert.True(t, Accept("HtTpS://a.com/x"))
	assert.False(t, Accept("ftp://a.com"))
	assert.False(t, Accept(" http://a.com"))
	assert.False(t, Accept("http://"))
	assert.False(t, Accept("https://a.com/b c"))
}

func TestFromReader(t *testing.T) {
	links, err := FromReader(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, want, links)
}

func TestFromReaderEmpty(t *testing.T) {
	links, err := FromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestFromLocationFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte(page), 0o600))

	links, err := FromLocation(context.Background(), path, Config{})
	require.NoError(t, err)
	assert.Equal(t, want, links)
}

func TestFromLocationHTTP(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	links, err := FromLocation(context.Background(), srv.URL+"/index.html", Config{UserAgent: "extract-test"})
	require.NoError(t, err)
	assert.Equal(t, want, links)
	assert.Equal(t, "extract-test", gotUA)
}

func TestFromLocationErrors(t *testing.T) {
	_, err := FromLocation(context.Background(), " ", Config{})
	assert.Error(t, err)

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err = FromLocation(context.Background(), srv.URL, Config{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = FromLocation(ctx, srv.URL, Config{})
	assert.Error(t, err)
}

func TestResolveLocation(t *testing.T) {
	got, err := resolveLocation("https://a.com/x")
	require.NoError(t, err)
	assert.Equal(t, "https://a.com/x", got)

	got, err = resolveLocation("/tmp/page.html")
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp/page.html", got)
}
