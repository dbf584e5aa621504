package web_search

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepscout/tools/web_search/brave"
	"github.com/mohammad-safakhou/deepscout/tools/web_search/models"
	"github.com/mohammad-safakhou/deepscout/tools/web_search/serper"
)

// Source is one supporting document returned by a search.
type Source struct {
	URL       string
	Title     string
	Snippet   string
	Relevance float64
}

// Answer is a search response: content to synthesize from plus the sources it came from.
type Answer struct {
	Content string
	Sources []Source
}

// Options tunes a single search call.
type Options struct {
	MaxResults int
	Recency    int    // restrict to results from the last N days, 0 = no restriction
	Context    string // prior findings to sharpen the query, may be empty
}

// Searcher answers a research question using an external search provider.
// The model argument selects provider depth ("standard" or "deep").
type Searcher interface {
	Search(ctx context.Context, query string, model string, opts Options) (Answer, error)
}

// discoverer is the provider-side contract implemented by serper and brave.
type discoverer interface {
	Discover(ctx context.Context, q string, k int, recency int) (models.Page, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported search provider")

func NewSearcher(provider Provider, apiKey string, timeout time.Duration) (Searcher, error) {
	switch provider {
	case SerperProvider:
		return &searcher{serper.New(apiKey, timeout)}, nil
	case BraveProvider:
		return &searcher{brave.New(apiKey, timeout)}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

type searcher struct {
	backend discoverer
}

func (s *searcher) Search(ctx context.Context, query string, model string, opts Options) (Answer, error) {
	k := opts.MaxResults
	if k <= 0 {
		k = 10
	}
	if model == "deep" {
		k *= 2
	}
	q := query
	if opts.Context != "" {
		q = query + " " + opts.Context
	}
	page, err := s.backend.Discover(ctx, q, k, opts.Recency)
	if err != nil {
		return Answer{}, err
	}

	sources := make([]Source, 0, len(page.Results))
	for i, r := range page.Results {
		// earlier organic results rank higher
		rel := 1.0 - float64(i)/float64(len(page.Results)+1)
		sources = append(sources, Source{URL: r.URL, Title: r.Title, Snippet: r.Snippet, Relevance: rel})
	}

	content := page.Content
	if content == "" {
		// no answer box: fall back to concatenated snippets
		var b strings.Builder
		for _, src := range sources {
			if src.Snippet == "" {
				continue
			}
			b.WriteString(src.Title)
			b.WriteString(": ")
			b.WriteString(src.Snippet)
			b.WriteString("\n")
		}
		content = b.String()
	}

	return Answer{Content: content, Sources: sources}, nil
}
