package web

import "testing"

const samplePage = `
<div class="result">
  <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F&amp;rut=abc">The Go Programming <b>Language</b></a>
  <a class="result__snippet" href="#">Go is an <b>open source</b> programming language.</a>
</div>
<div class="result">
  <a rel="nofollow" class="result__a" href="https://pkg.go.dev/">Go Packages</a>
  <a class="result__snippet" href="#">Discover packages.</a>
</div>
`

func TestParseResults(t *testing.T) {
	results := parseResults(samplePage, 5)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	first := results[0]
	if first.URL != "https://go.dev/" {
		t.Errorf("redirect link must be unwrapped, got %q", first.URL)
	}
	if first.Title != "The Go Programming Language" {
		t.Errorf("title = %q", first.Title)
	}
	if first.Snippet != "Go is an open source programming language." {
		t.Errorf("snippet = %q", first.Snippet)
	}

	if results[1].URL != "https://pkg.go.dev/" {
		t.Errorf("plain link = %q", results[1].URL)
	}
}

func TestParseResultsHonoursLimit(t *testing.T) {
	results := parseResults(samplePage, 1)
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestDecodeDDGLink(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F", "https://go.dev/doc/"},
		{"https://example.com/page", "https://example.com/page"},
		{"//cdn.example.com/x", "https://cdn.example.com/x"},
	}
	for _, tt := range tests {
		if got := decodeDDGLink(tt.in); got != tt.want {
			t.Errorf("decodeDDGLink(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
