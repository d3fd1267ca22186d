package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const articlePage = `<!DOCTYPE html>
<html>
<head>
	<title>Test Article</title>
</head>
<body>
	<header>
		<nav>Navigation</nav>
	</header>
	<main>
		<article>
			<h1>Main Article Title</h1>
			<p>This is the main content of the article. It contains several paragraphs of meaningful text that should be extracted by the readability algorithm.</p>
			<p>This is another paragraph with more content. The readability algorithm should identify this as the main content area and extract it properly.</p>
			<p>Here is some more substantial content to ensure we meet the character threshold. This paragraph adds more context and information that would be valuable to readers.</p>
			<script>alert("x")</script>
		</article>
	</main>
	<footer>
		<p>Copyright 2024</p>
	</footer>
</body>
</html>`

func newTestImporter() *Importer {
	return NewImporter(http.DefaultClient, NewFormatter(), "test-agent", 5*time.Second)
}

func TestImporter_Import_ValidPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("Expected user agent 'test-agent', got '%s'", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, articlePage)
	}))
	defer server.Close()

	draft, err := newTestImporter().Import(context.Background(), server.URL+"/article")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if draft.Title == "" {
		t.Error("Expected a title")
	}
	if !strings.Contains(draft.Body, "main content of the article") {
		t.Errorf("Expected extracted content, got:\n%s", draft.Body)
	}
	if strings.Contains(draft.Body, "<script") {
		t.Error("Imported body must be sanitized")
	}
}

func TestImporter_Import_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer server.Close()

	if _, err := newTestImporter().Import(context.Background(), server.URL); err == nil {
		t.Error("Expected error for 404 page")
	}
}

func TestImporter_Import_NonHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"hello": "world"}`)
	}))
	defer server.Close()

	if _, err := newTestImporter().Import(context.Background(), server.URL); err == nil {
		t.Error("Expected error for non-HTML content")
	}
}

func TestImporter_Import_InvalidURL(t *testing.T) {
	for _, rawURL := range []string{"", "ftp://example.com/file", "not a url", "https://"} {
		if _, err := newTestImporter().Import(context.Background(), rawURL); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("Expected ErrInvalidURL for %q, got %v", rawURL, err)
		}
	}
}
