package content

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	xhtml "golang.org/x/net/html"

	"github.com/lysyi3m/research-digest/app/synth"
)

const (
	MaxTitleChars   = 500
	MaxExcerptChars = 280
)

var ErrMalformedContent = errors.New("malformed content")

var (
	titlePattern    = regexp.MustCompile(`^(?:#[ \t]+(.+?)(?:[ \t]+#+)?|(?i:<h1>(.*?)</h1>))$`)
	subtitlePattern = regexp.MustCompile(`^>[ \t]*(.+)$`)
	htmlStart       = regexp.MustCompile(`^<(?i:p|h[1-6]|ul|ol|pre|blockquote|hr|div|section|article)[\s/>]`)
	fenceOpen       = regexp.MustCompile("^```[a-zA-Z]*$")
)

// Block-level tags kept at the top level of a body. Anything else at the
// top level is wrapped in a paragraph.
var blockTags = map[string]bool{
	"h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "ul": true, "ol": true, "pre": true, "blockquote": true, "hr": true,
}

type Draft struct {
	Title    string
	Subtitle string
	Body     string
	Excerpt  string
}

type envelope struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Content  string `json:"content"`
}

// Formatter turns generated or hand-written text into a sanitized post body.
// It is a pure function of its input and is idempotent on its own output.
type Formatter struct {
	markdown    goldmark.Markdown
	policy      *bluemonday.Policy
	plainPolicy *bluemonday.Policy
}

func NewFormatter() *Formatter {
	policy := bluemonday.NewPolicy()
	policy.AllowElements(
		"h1", "h2", "h3", "h4", "h5", "h6",
		"p", "em", "strong", "ul", "ol", "li",
		"pre", "code", "blockquote", "hr",
	)

	return &Formatter{
		markdown:    goldmark.New(),
		policy:      policy,
		plainPolicy: bluemonday.StrictPolicy(),
	}
}

func (f *Formatter) Format(result synth.Result) (Draft, error) {
	text := stripFence(trimBlankLines(result.Text))

	var title, subtitle, source string
	if env, ok := parseEnvelope(text); ok {
		title, subtitle, source = env.Title, env.Subtitle, env.Content
	} else {
		title, subtitle, source = splitHeader(text)
	}

	body, err := f.RenderBody(source)
	if err != nil {
		return Draft{}, err
	}

	title = f.plainText(title, MaxTitleChars)
	if title == "" {
		title = DefaultTitle(result.CompletedAt)
	}

	return Draft{
		Title:    title,
		Subtitle: f.plainText(subtitle, MaxTitleChars),
		Body:     body,
		Excerpt:  Excerpt(body),
	}, nil
}

// FormatManual applies the same allow-list to a hand-written post.
func (f *Formatter) FormatManual(title, subtitle, body string) (Draft, error) {
	title = f.plainText(title, MaxTitleChars)
	if title == "" {
		return Draft{}, fmt.Errorf("%w: title is required", ErrMalformedContent)
	}

	rendered, err := f.RenderBody(body)
	if err != nil {
		return Draft{}, err
	}

	return Draft{
		Title:    title,
		Subtitle: f.plainText(subtitle, MaxTitleChars),
		Body:     rendered,
		Excerpt:  Excerpt(rendered),
	}, nil
}

// RenderBody converts Markdown (or already-structured HTML) into allow-listed
// markup: escape first, then keep only the structural tags.
func (f *Formatter) RenderBody(source string) (string, error) {
	source = trimBlankLines(source)

	raw := source
	if !htmlStart.MatchString(strings.TrimSpace(source)) {
		var buf bytes.Buffer
		if err := f.markdown.Convert([]byte(source), &buf); err != nil {
			return "", fmt.Errorf("%w: %w", ErrMalformedContent, err)
		}
		raw = buf.String()
	}

	sanitized := f.policy.Sanitize(raw)
	sanitized = strings.NewReplacer("<h1>", "<h2>", "</h1>", "</h2>").Replace(sanitized)

	body, err := normalizeBlocks(sanitized)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedContent, err)
	}

	if PlainText(body) == "" {
		return "", fmt.Errorf("%w: no body content after sanitization", ErrMalformedContent)
	}

	return body, nil
}

func (f *Formatter) plainText(value string, limit int) string {
	value = html.UnescapeString(f.plainPolicy.Sanitize(value))
	value = strings.Trim(strings.Join(strings.Fields(value), " "), "*_` ")
	return clip(value, limit)
}

func DefaultTitle(at time.Time) string {
	if at.IsZero() {
		at = time.Now()
	}
	return "AI Research Digest: " + at.Format("January 2, 2006")
}

// PlainText returns the visible text of a body with whitespace collapsed.
func PlainText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func Excerpt(body string) string {
	return clip(PlainText(body), MaxExcerptChars)
}

func splitHeader(text string) (string, string, string) {
	lines := strings.Split(text, "\n")

	i := nextNonEmpty(lines, 0)
	if i < 0 {
		return "", "", ""
	}

	m := titlePattern.FindStringSubmatch(strings.TrimSpace(lines[i]))
	if m == nil {
		return "", "", text
	}
	title := m[1] + m[2]

	subtitle := ""
	j := nextNonEmpty(lines, i+1)
	if j >= 0 {
		if sm := subtitlePattern.FindStringSubmatch(strings.TrimSpace(lines[j])); sm != nil {
			subtitle = sm[1]
			j++
		}
	}

	rest := ""
	if j >= 0 && j < len(lines) {
		rest = strings.Join(lines[j:], "\n")
	}
	return title, subtitle, rest
}

// trimBlankLines drops surrounding blank lines but keeps the indentation of
// the first line, which marks an indented code block.
func trimBlankLines(text string) string {
	lines := strings.Split(strings.TrimRight(text, " \t\r\n"), "\n")
	i := nextNonEmpty(lines, 0)
	if i < 0 {
		return ""
	}
	return strings.Join(lines[i:], "\n")
}

func nextNonEmpty(lines []string, from int) int {
	for i := from; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != "" {
			return i
		}
	}
	return -1
}

// stripFence removes a code fence wrapping the whole reply.
func stripFence(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 || !fenceOpen.MatchString(strings.TrimSpace(lines[0])) {
		return text
	}
	if strings.TrimSpace(lines[len(lines)-1]) != "```" {
		return text
	}
	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
}

func parseEnvelope(text string) (envelope, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return envelope{}, false
	}
	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return envelope{}, false
	}
	if strings.TrimSpace(env.Content) == "" {
		return envelope{}, false
	}
	return env, true
}

// normalizeBlocks re-serializes sanitized markup so every top-level node is a
// block element; loose inline runs become paragraphs.
func normalizeBlocks(markup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", err
	}

	bodies := doc.Find("body").Nodes
	if len(bodies) == 0 {
		return "", nil
	}

	var out strings.Builder
	var inline []*xhtml.Node

	flush := func() error {
		defer func() { inline = nil }()
		var buf strings.Builder
		visible := false
		for _, n := range inline {
			if err := xhtml.Render(&buf, n); err != nil {
				return err
			}
			if n.Type != xhtml.TextNode || strings.TrimSpace(n.Data) != "" {
				visible = true
			}
		}
		if visible {
			out.WriteString("<p>" + strings.TrimSpace(buf.String()) + "</p>\n")
		}
		return nil
	}

	for n := bodies[0].FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xhtml.ElementNode && blockTags[n.Data] {
			if err := flush(); err != nil {
				return "", err
			}
			if err := xhtml.Render(&out, n); err != nil {
				return "", err
			}
			out.WriteString("\n")
			continue
		}
		if n.Type == xhtml.TextNode || n.Type == xhtml.ElementNode {
			inline = append(inline, n)
		}
	}
	if err := flush(); err != nil {
		return "", err
	}

	return strings.TrimSpace(out.String()), nil
}

func clip(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return strings.TrimSpace(string([]rune(value)[:limit]))
}
