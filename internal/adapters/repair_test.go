package adapters

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

func TestRepairFencedToolCodeShellCommand(t *testing.T) {
	a := ForModel("llama-3.1-8b-instant")
	parsed := a.Parse(engine.ChatResponse{
		Content: "Voy a listar los archivos:\n```tool_code\nls -la\n```\n",
	})

	if !parsed.Repaired {
		t.Fatal("expected a repair")
	}
	if len(parsed.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(parsed.ToolCalls))
	}
	call := parsed.ToolCalls[0]
	if call.Name != "execute_bash" {
		t.Errorf("tool = %s, want execute_bash", call.Name)
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		t.Fatalf("arguments are not JSON: %v", err)
	}
	if args["command"] != "ls -la" {
		t.Errorf("command = %q, want ls -la", args["command"])
	}
	if call.ID == "" {
		t.Error("repaired calls must get a fresh id")
	}
	// The fenced block is suppressed from the user-visible content.
	if strings.Contains(parsed.Content, "tool_code") || strings.Contains(parsed.Content, "ls -la") {
		t.Errorf("fenced block must be stripped from content: %q", parsed.Content)
	}
}

func TestRepairFencedToolCodeNamedCall(t *testing.T) {
	a := ForModel("gemini-2.5-flash")
	parsed := a.Parse(engine.ChatResponse{
		Content: "```tool_code\nread_file({\"file_path\": \"README.md\"})\n```",
	})

	if !parsed.Repaired || len(parsed.ToolCalls) != 1 {
		t.Fatalf("expected a repaired call: %+v", parsed)
	}
	call := parsed.ToolCalls[0]
	if call.Name != "read_file" {
		t.Errorf("tool = %s, want read_file", call.Name)
	}
	if !strings.Contains(call.Arguments, "README.md") {
		t.Errorf("arguments = %q", call.Arguments)
	}
}

func TestRepairXMLWrapper(t *testing.T) {
	a := ForModel("qwen/qwen3-32b")
	parsed := a.Parse(engine.ChatResponse{
		Content: `Claro: <tool_call>{"name": "web_search", "arguments": {"query": "golang"}}</tool_call>`,
	})

	if !parsed.Repaired || len(parsed.ToolCalls) != 1 {
		t.Fatalf("expected a repaired call: %+v", parsed)
	}
	call := parsed.ToolCalls[0]
	if call.Name != "web_search" {
		t.Errorf("tool = %s, want web_search", call.Name)
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil || args["query"] != "golang" {
		t.Errorf("arguments = %q", call.Arguments)
	}
	if strings.Contains(parsed.Content, "tool_call") {
		t.Errorf("wrapper must be stripped: %q", parsed.Content)
	}
}

func TestRepairBareJSON(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantTool string
	}{
		{
			"name-arguments shape",
			`{"name": "read_file", "arguments": {"file_path": "a.txt"}}`,
			"read_file",
		},
		{
			"function wrapper shape",
			`Lo haré. {"function": {"name": "execute_bash", "arguments": "{\"command\":\"pwd\"}"}}`,
			"execute_bash",
		},
		{
			"parameters alias",
			`{"name": "web_search", "parameters": {"query": "go testing"}}`,
			"web_search",
		},
	}

	a := ForModel("unknown-model")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := a.Parse(engine.ChatResponse{Content: tt.content})
			if !parsed.Repaired || len(parsed.ToolCalls) != 1 {
				t.Fatalf("expected a repaired call: %+v", parsed)
			}
			if parsed.ToolCalls[0].Name != tt.wantTool {
				t.Errorf("tool = %s, want %s", parsed.ToolCalls[0].Name, tt.wantTool)
			}
			if !json.Valid([]byte(parsed.ToolCalls[0].Arguments)) {
				t.Errorf("arguments must be valid JSON: %q", parsed.ToolCalls[0].Arguments)
			}
		})
	}
}

func TestRepairBareJSONIgnoresOrdinaryObjects(t *testing.T) {
	a := ForModel("unknown-model")
	parsed := a.Parse(engine.ChatResponse{
		Content: `El resultado es {"total": 3, "ok": true} según el análisis.`,
	})
	if parsed.Repaired || len(parsed.ToolCalls) != 0 {
		t.Errorf("ordinary JSON must not be mistaken for a tool call: %+v", parsed)
	}
}

func TestRepairAccionPrefix(t *testing.T) {
	small := ForModel("llama-3.1-8b-instant")
	parsed := small.Parse(engine.ChatResponse{
		Content: "[Acción: ls -la] Listando los archivos del proyecto.",
	})

	if !parsed.Repaired || len(parsed.ToolCalls) != 1 {
		t.Fatalf("expected the acción prefix repair: %+v", parsed)
	}
	call := parsed.ToolCalls[0]
	if call.Name != "execute_bash" || !strings.Contains(call.Arguments, "ls -la") {
		t.Errorf("unexpected call: %+v", call)
	}
	if strings.Contains(parsed.Content, "Acción") {
		t.Errorf("prefix must be stripped: %q", parsed.Content)
	}

	// The prefix repair is family-specific: big models do not apply it.
	big := ForModel("llama-3.3-70b-versatile")
	parsed = big.Parse(engine.ChatResponse{Content: "[Acción: ls -la] hecho"})
	if parsed.Repaired {
		t.Error("the acción repair belongs to the small-llama adapter only")
	}
}

func TestRepairAccionPrefixNonCommand(t *testing.T) {
	a := ForModel("llama-3.1-8b-instant")
	parsed := a.Parse(engine.ChatResponse{
		Content: "[Acción: pensando en la respuesta] Aquí está mi análisis.",
	})
	if parsed.Repaired {
		t.Errorf("prose after the prefix is not a command: %+v", parsed)
	}
}

func TestFindMatchingBrace(t *testing.T) {
	tests := []struct {
		text string
		pos  int
		want int
	}{
		{`{"a":1}`, 0, 7},
		{`{"a":{"b":2}}`, 0, 13},
		{`{"s":"}"}`, 0, 9},          // brace inside string
		{`{"s":"\"}"}`, 0, 11},       // escaped quote
		{`{"unclosed":`, 0, 0},       // no match returns pos
	}
	for _, tt := range tests {
		if got := findMatchingBrace(tt.text, tt.pos); got != tt.want {
			t.Errorf("findMatchingBrace(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
