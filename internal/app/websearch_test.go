package app

import (
	"testing"
)

const searchFixture = `
<div class="result">
  <a rel="nofollow" class="result__a" href="https://go.dev/doc/">Go <b>Documentation</b></a>
  <a class="result__snippet" href="https://go.dev/doc/">Learn how to <b>install</b> &amp; use Go.</a>
</div>
<div class="result">
  <a rel="nofollow" class="result__a" href="https://pkg.go.dev/?q=json">Package index &mdash; json</a>
  <a class="result__snippet" href="https://pkg.go.dev/?q=json">Packages matching json.</a>
</div>
<div class="result">
  <a rel="nofollow" class="result__a" href="https://example.com/third">Third result</a>
</div>
`

func TestParseSearchResults(t *testing.T) {
	results := parseSearchResults(searchFixture, 10)
	if len(results) != 3 {
		t.Fatalf("parsed %d results, want 3", len(results))
	}

	first := results[0]
	if first.URL != "https://go.dev/doc/" {
		t.Errorf("URL = %q", first.URL)
	}
	if first.Title != "Go Documentation" {
		t.Errorf("Title = %q (tags not stripped?)", first.Title)
	}
	if first.Snippet != "Learn how to install & use Go." {
		t.Errorf("Snippet = %q (entities not unescaped?)", first.Snippet)
	}

	// Snippets are paired positionally; a missing one degrades to empty.
	if results[2].Snippet != "" {
		t.Errorf("third snippet = %q, want empty", results[2].Snippet)
	}
}

func TestParseSearchResultsLimit(t *testing.T) {
	results := parseSearchResults(searchFixture, 1)
	if len(results) != 1 {
		t.Fatalf("parsed %d results, want 1", len(results))
	}
	if results[0].Title != "Go Documentation" {
		t.Errorf("Title = %q", results[0].Title)
	}
}

func TestParseSearchResultsEmptyPage(t *testing.T) {
	if results := parseSearchResults("<html><body>nothing here</body></html>", 5); len(results) != 0 {
		t.Errorf("parsed %d results from an empty page", len(results))
	}
}

func TestCleanHTMLText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"<b>bold</b> text", "bold text"},
		{"  padded  ", "padded"},
		{"a &amp; b &lt;c&gt;", "a & b <c>"},
	}
	for _, tt := range tests {
		if got := cleanHTMLText(tt.in); got != tt.want {
			t.Errorf("cleanHTMLText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
