package synth

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxAbstractChars = 1500

const systemPrompt = "You are an expert AI researcher and technical writer. " +
	"You explain new research papers to practitioners accurately and without hype."

// BuildMessages renders the system and user messages for one digest. The
// user message lists every paper in ranking order and asks for a post in
// Markdown with fixed section markers.
func BuildMessages(req Request) []ChatMessage {
	var b strings.Builder

	fmt.Fprintf(&b, "Write a long-form blog post (1200-1500 words) about the following %d recent AI research papers", len(req.Papers))
	if !req.Date.IsZero() {
		fmt.Fprintf(&b, " published around %s", req.Date.Format("January 2, 2006"))
	}
	b.WriteString(".\n\n")

	for i, paper := range req.Papers {
		fmt.Fprintf(&b, "Paper %d:\n", i+1)
		fmt.Fprintf(&b, "Title: %s\n", paper.Title)
		if len(paper.Authors) > 0 {
			fmt.Fprintf(&b, "Authors: %s\n", formatAuthors(paper.Authors))
		}
		if len(paper.Categories) > 0 {
			fmt.Fprintf(&b, "Categories: %s\n", strings.Join(paper.Categories, ", "))
		}
		if !paper.PublishedAt.IsZero() {
			fmt.Fprintf(&b, "Published: %s\n", paper.PublishedAt.Format("2006-01-02"))
		}
		if paper.URL != "" {
			fmt.Fprintf(&b, "URL: %s\n", paper.URL)
		}
		fmt.Fprintf(&b, "Abstract: %s\n\n", clip(paper.Abstract, maxAbstractChars))
	}

	b.WriteString(`Structure the post with exactly these section markers, in this order:
# <an engaging title for the whole post>
> <a one-sentence subtitle>
## Overview
<what connects these papers and why they matter now>
## <paper title>
<one section per paper, in the order given: the problem, the approach, the results, and practical implications>
## Synthesis
<common threads, open questions, and what to watch next>

Use Markdown only: paragraphs separated by blank lines, **bold** for key terms, *italics* for emphasis,
bulleted lists where they help, and fenced code blocks only for code. Do not use HTML, tables, or images.
Do not invent results that are not supported by the abstracts.`)

	return []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func formatAuthors(authors []string) string {
	if len(authors) <= 3 {
		return strings.Join(authors, ", ")
	}
	return strings.Join(authors[:3], ", ") + " et al."
}

func clip(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return strings.TrimSpace(string(runes[:limit])) + "..."
}

// truncate cuts text to at most limit characters, preferring the last
// paragraph break in the second half of the allowed window.
func truncate(text string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text, false
	}

	cut := string([]rune(text)[:limit])
	if i := strings.LastIndex(cut, "\n\n"); i > len(cut)/2 {
		cut = cut[:i]
	}

	return strings.TrimSpace(cut), true
}
