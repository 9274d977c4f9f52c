package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const duckduckgoHTMLEndpoint = "https://html.duckduckgo.com/html/"

// The HTML endpoint needs no API key; a browser-ish user agent avoids the
// bot interstitial.
const webSearchUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"

const defaultMaxSearchResults = 5

var webSearchHTTPClient = &http.Client{Timeout: 20 * time.Second}

type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

var (
	resultLinkRe    = regexp.MustCompile(`(?s)<a[^>]*class="result__a"[^>]*href="([^"]+)"[^>]*>(.*?)</a>`)
	resultSnippetRe = regexp.MustCompile(`(?s)class="result__snippet"[^>]*>(.*?)</a>`)
	htmlTagRe       = regexp.MustCompile(`<[^>]*>`)
)

func runWebSearch(ctx context.Context, r *Registry, args json.RawMessage) (string, error) {
	var a struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("parse web_search arguments: %w", err)
	}
	if a.Query == "" {
		return "", errors.New("missing 'query' parameter")
	}
	if a.MaxResults <= 0 {
		a.MaxResults = defaultMaxSearchResults
	}

	results, err := searchDuckDuckGo(ctx, webSearchHTTPClient, a.Query, a.MaxResults)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results found", nil
	}

	blocks := make([]string, 0, len(results))
	for _, res := range results {
		blocks = append(blocks, fmt.Sprintf("Title: %s\nURL: %s\nSnippet: %s\n", res.Title, res.URL, res.Snippet))
	}
	return strings.Join(blocks, "\n---\n\n"), nil
}

func searchDuckDuckGo(ctx context.Context, client *http.Client, query string, maxResults int) ([]searchResult, error) {
	searchURL := duckduckgoHTMLEndpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", webSearchUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch search results: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read search results: %w", err)
	}
	return parseSearchResults(string(body), maxResults), nil
}

// parseSearchResults extracts title/URL/snippet triples from DuckDuckGo's
// HTML results page. Snippets are paired with links positionally; a page
// layout change degrades to empty snippets rather than failing the tool.
func parseSearchResults(page string, maxResults int) []searchResult {
	links := resultLinkRe.FindAllStringSubmatch(page, maxResults)
	snippets := resultSnippetRe.FindAllStringSubmatch(page, maxResults)

	results := make([]searchResult, 0, len(links))
	for i, link := range links {
		res := searchResult{
			URL:   html.UnescapeString(link[1]),
			Title: cleanHTMLText(link[2]),
		}
		if i < len(snippets) {
			res.Snippet = cleanHTMLText(snippets[i][1])
		}
		results = append(results, res)
	}
	return results
}

func cleanHTMLText(s string) string {
	s = htmlTagRe.ReplaceAllString(s, "")
	return strings.TrimSpace(html.UnescapeString(s))
}
