package models

// Result is one raw search hit from a provider.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Page is a provider response: an optional direct answer plus ranked hits.
type Page struct {
	Content string // answer-box / summary text when the provider returns one
	Results []Result
}
