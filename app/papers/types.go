package papers

import (
	"errors"
	"time"
)

var ErrSourceUnavailable = errors.New("paper source unavailable")

// Paper is a candidate fetched from the index. It is never persisted.
type Paper struct {
	ID          string
	Title       string
	Abstract    string
	Categories  []string
	Authors     []string
	URL         string
	PDFURL      string
	PublishedAt time.Time
}

type Topics struct {
	Categories []string `yaml:"categories"`
	Keywords   []string `yaml:"keywords"`
}

var DefaultCategories = []string{"cs.AI", "cs.LG", "cs.CL"}

var DefaultKeywords = []string{
	"llm",
	"large language model",
	"transformer",
	"neural network",
	"deep learning",
	"machine learning",
	"artificial intelligence",
	"generative",
	"reinforcement learning",
	"computer vision",
	"natural language",
	"gpt",
	"bert",
	"diffusion",
	"generative adversarial",
}
