package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/lysyi3m/research-digest/app/database"
)

func samplePosts() []database.Post {
	return []database.Post{
		{
			ID:        2,
			Title:     "Digest & Friends",
			Subtitle:  "Second",
			Body:      "<h2>Overview</h2>\n<p>Attention <em>everywhere</em></p>",
			Excerpt:   "Attention everywhere",
			Source:    database.SourceGenerated,
			CreatedAt: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC),
		},
		{
			ID:        1,
			Title:     "Manual note",
			Body:      "<p>Tricky ]]> content</p>",
			Source:    database.SourceManual,
			CreatedAt: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		},
	}
}

func TestGenerator_Run(t *testing.T) {
	generator := NewGenerator("https://digest.example.com/", "8080", "1.2.3")

	rss, err := generator.Run(samplePosts(), time.Now())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	parsed, err := gofeed.NewParser().ParseString(rss)
	if err != nil {
		t.Fatalf("Generated RSS does not parse: %v\n%s", err, rss)
	}

	if parsed.Title != "Research Digest" {
		t.Errorf("Expected channel title, got %q", parsed.Title)
	}
	if parsed.Generator != "Research-Digest/1.2.3" {
		t.Errorf("Expected generator with version, got %q", parsed.Generator)
	}
	if len(parsed.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(parsed.Items))
	}

	first := parsed.Items[0]
	if first.Title != "Digest & Friends" {
		t.Errorf("Expected escaped title to round trip, got %q", first.Title)
	}
	if first.Link != "https://digest.example.com/api/posts/2" {
		t.Errorf("Unexpected link: %q", first.Link)
	}
	if first.Description != "Attention everywhere" {
		t.Errorf("Expected excerpt as description, got %q", first.Description)
	}
	if !strings.Contains(first.Content, "<em>everywhere</em>") {
		t.Errorf("Expected body in content:encoded, got %q", first.Content)
	}

	if !strings.Contains(parsed.Items[1].Content, "Tricky ]]> content") {
		t.Errorf("Expected CDATA terminator to survive, got %q", parsed.Items[1].Content)
	}
}

func TestGenerator_Run_Empty(t *testing.T) {
	generator := NewGenerator("", "9090", "dev")

	rss, err := generator.Run(nil, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(rss, "http://localhost:9090/feed.xml") {
		t.Errorf("Expected localhost self link, got:\n%s", rss)
	}
	if strings.Contains(rss, "<item>") {
		t.Error("Expected no items")
	}

	if _, err := gofeed.NewParser().ParseString(rss); err != nil {
		t.Errorf("Generated RSS does not parse: %v", err)
	}
}
