// Package web implements the web_search tool over DuckDuckGo's HTML
// endpoint; no API key required.
package web

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

const (
	searchEndpoint = "https://html.duckduckgo.com/html/"
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	searchTimeout  = 10 * time.Second
)

var (
	reResultLink = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	reSnippet    = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
	reTags       = regexp.MustCompile(`<[^>]+>`)
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// NewSearchTool creates the web_search tool. client may be nil.
func NewSearchTool(client *http.Client) engine.Tool {
	if client == nil {
		client = &http.Client{Timeout: searchTimeout}
	}
	return engine.Tool{
		Name:        "web_search",
		Description: "Busca información en internet. Devuelve resultados relevantes de DuckDuckGo.",
		SchemaJSON: `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Consulta de búsqueda"},
    "max_results": {"type": "integer", "description": "Número máximo de resultados", "default": 5}
  },
  "required": ["query"]
}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolResult, error) {
			query, _ := args["query"].(string)
			maxResults := 5
			if v, ok := args["max_results"].(float64); ok && v > 0 {
				maxResults = int(v)
			}
			return search(ctx, client, query, maxResults)
		},
	}
}

func search(ctx context.Context, client *http.Client, query string, maxResults int) (engine.ToolResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		searchEndpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return engine.ToolResult{Success: false, Error: err.Error()}, nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return engine.ToolResult{Success: false, Error: fmt.Sprintf("Search failed: %v", err)}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return engine.ToolResult{Success: false, Error: fmt.Sprintf("Search failed: HTTP %d", resp.StatusCode)}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return engine.ToolResult{Success: false, Error: err.Error()}, nil
	}

	results := parseResults(string(body), maxResults)
	if len(results) == 0 {
		return engine.ToolResult{
			Success: true,
			Result:  map[string]any{"results": []Result{}, "count": 0},
			Summary: "No results found.",
		}, nil
	}

	var formatted []string
	for i, r := range results {
		formatted = append(formatted, fmt.Sprintf("%d. %s\n   %s\n   %s", i+1, r.Title, r.URL, r.Snippet))
	}

	return engine.ToolResult{
		Success: true,
		Result: map[string]any{
			"results": results,
			"count":   len(results),
		},
		Summary: strings.Join(formatted, "\n\n"),
	}, nil
}

// parseResults extracts ordered {title,url,snippet} triples from the HTML.
func parseResults(page string, maxResults int) []Result {
	links := reResultLink.FindAllStringSubmatch(page, maxResults)
	snippets := reSnippet.FindAllStringSubmatch(page, maxResults)

	var results []Result
	for i, link := range links {
		if len(results) >= maxResults {
			break
		}
		r := Result{
			URL:   decodeDDGLink(link[1]),
			Title: cleanHTML(link[2]),
		}
		if i < len(snippets) {
			r.Snippet = cleanHTML(snippets[i][1])
		}
		if r.URL != "" && r.Title != "" {
			results = append(results, r)
		}
	}
	return results
}

// decodeDDGLink unwraps DuckDuckGo's redirect links (uddg parameter).
func decodeDDGLink(raw string) string {
	raw = html.UnescapeString(raw)
	if strings.Contains(raw, "uddg=") {
		if u, err := url.Parse(raw); err == nil {
			if target := u.Query().Get("uddg"); target != "" {
				return target
			}
		}
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return raw
}

func cleanHTML(s string) string {
	s = reTags.ReplaceAllString(s, "")
	return strings.TrimSpace(html.UnescapeString(s))
}
