package conversation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

func newTestConversation(t *testing.T, compression bool) *Conversation {
	t.Helper()
	conv, err := New(Options{
		BaseDir:           t.TempDir(),
		SessionID:         "20250601_120000",
		AutoSave:          true,
		EnableCompression: compression,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return conv
}

func TestAppendTimestampsAndPersists(t *testing.T) {
	conv := newTestConversation(t, false)

	if err := conv.Append(engine.Message{Role: engine.RoleUser, Content: "hola"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	msgs := conv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Timestamp.IsZero() {
		t.Error("Append must timestamp messages")
	}

	if _, err := os.Stat(conv.FilePath()); err != nil {
		t.Errorf("Append must persist the log: %v", err)
	}
}

func TestAppendNormalisesToolCalls(t *testing.T) {
	conv := newTestConversation(t, false)

	err := conv.Append(engine.Message{
		Role: engine.RoleAssistant,
		ToolCalls: []engine.ToolCall{
			{Name: "read_file", Arguments: ""},          // missing id, empty args
			{ID: "c2", Name: "web_search", Arguments: `not-json`}, // invalid args
		},
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	calls := conv.Messages()[0].ToolCalls
	if calls[0].ID == "" {
		t.Error("missing tool-call id must be synthesised")
	}
	if calls[0].Arguments != "{}" || calls[1].Arguments != "{}" {
		t.Errorf("invalid arguments must normalise to {}: %+v", calls)
	}
	if calls[1].ID != "c2" {
		t.Errorf("existing id must be kept, got %s", calls[1].ID)
	}
}

func TestMessagesForAPITextFallback(t *testing.T) {
	conv := newTestConversation(t, false)

	mustAppend(t, conv, engine.Message{Role: engine.RoleUser, Content: "lee el readme"})
	mustAppend(t, conv, engine.Message{
		Role: engine.RoleAssistant,
		ToolCalls: []engine.ToolCall{
			{ID: "c1", Name: "read_file", Arguments: `{"file_path":"README.md"}`},
		},
	})
	mustAppend(t, conv, engine.Message{
		Role:       engine.RoleTool,
		ToolCallID: "c1",
		ToolName:   "read_file",
		Content:    strings.Repeat("x", 3000),
	})

	msgs := conv.MessagesForAPI(true)

	// No tool roles and no tool_calls may survive the text fallback.
	for i, msg := range msgs {
		if msg.Role == engine.RoleTool {
			t.Errorf("message %d still has role=tool", i)
		}
		if len(msg.ToolCalls) > 0 {
			t.Errorf("message %d still carries tool_calls", i)
		}
	}

	if !strings.Contains(msgs[1].Content, "Ejecuté read_file(") {
		t.Errorf("assistant tool calls must collapse to text: %q", msgs[1].Content)
	}
	if !strings.HasPrefix(msgs[2].Content, "[Resultado de read_file]:") {
		t.Errorf("tool result must become a user message: %q", msgs[2].Content)
	}
	if msgs[2].Role != engine.RoleUser {
		t.Errorf("tool result role = %s, want user", msgs[2].Role)
	}
	// 2000-character truncation plus the marker.
	if !strings.Contains(msgs[2].Content, "[resultado truncado]") {
		t.Error("long tool results must be truncated")
	}
}

func TestMessagesForAPINative(t *testing.T) {
	conv := newTestConversation(t, false)

	mustAppend(t, conv, engine.Message{
		Role:      engine.RoleAssistant,
		ToolCalls: []engine.ToolCall{{ID: "c1", Name: "read_file", Arguments: `{}`}},
	})
	mustAppend(t, conv, engine.Message{
		Role: engine.RoleTool, ToolCallID: "c1", ToolName: "read_file", Content: "{}",
	})

	msgs := conv.MessagesForAPI(false)
	if len(msgs[0].ToolCalls) != 1 {
		t.Error("native view must preserve tool_calls")
	}
	if msgs[1].Role != engine.RoleTool || msgs[1].ToolCallID != "c1" {
		t.Errorf("native view must preserve tool messages: %+v", msgs[1])
	}
}

func TestEstimatedTokens(t *testing.T) {
	conv := newTestConversation(t, false)
	mustAppend(t, conv, engine.Message{Role: engine.RoleUser, Content: strings.Repeat("a", 4000)})
	got := conv.EstimatedTokens()
	if got != 1000 {
		t.Errorf("EstimatedTokens = %d, want 1000", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	conv := newTestConversation(t, false)
	mustAppend(t, conv, engine.Message{Role: engine.RoleSystem, Content: "system"})
	mustAppend(t, conv, engine.Message{Role: engine.RoleUser, Content: "hola"})
	mustAppend(t, conv, engine.Message{
		Role:      engine.RoleAssistant,
		Content:   "uso una herramienta",
		ToolCalls: []engine.ToolCall{{ID: "c1", Name: "read_file", Arguments: `{"file_path":"a.txt"}`}},
	})
	mustAppend(t, conv, engine.Message{
		Role: engine.RoleTool, ToolCallID: "c1", ToolName: "read_file", Content: `{"success":true}`,
	})

	firstSave, err := os.ReadFile(conv.FilePath())
	if err != nil {
		t.Fatalf("read first save: %v", err)
	}

	if err := conv.Load(conv.SessionID); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := conv.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	secondSave, err := os.ReadFile(conv.FilePath())
	if err != nil {
		t.Fatalf("read second save: %v", err)
	}

	// save→load→save is a fixpoint: nothing in the log changed.
	if string(firstSave) != string(secondSave) {
		t.Error("save→load→save must be byte-identical")
	}

	msgs := conv.Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages after load, got %d", len(msgs))
	}
	if msgs[2].ToolCalls[0].Arguments != `{"file_path":"a.txt"}` {
		t.Errorf("tool call arguments lost in round trip: %+v", msgs[2].ToolCalls)
	}
	if msgs[3].ToolCallID != "c1" || msgs[3].ToolName != "read_file" {
		t.Errorf("tool message identity lost in round trip: %+v", msgs[3])
	}
}

func TestStoredToolCallShape(t *testing.T) {
	conv := newTestConversation(t, false)
	mustAppend(t, conv, engine.Message{
		Role:      engine.RoleAssistant,
		ToolCalls: []engine.ToolCall{{ID: "c1", Name: "read_file", Arguments: `{}`}},
	})

	data, err := os.ReadFile(conv.FilePath())
	if err != nil {
		t.Fatal(err)
	}

	var file struct {
		Messages []map[string]any `json:"messages"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		t.Fatal(err)
	}
	calls := file.Messages[0]["tool_calls"].([]any)
	call := calls[0].(map[string]any)
	if call["type"] != "function" {
		t.Errorf(`stored tool call must carry type:"function": %v`, call)
	}
	fn := call["function"].(map[string]any)
	if fn["name"] != "read_file" {
		t.Errorf("stored function name = %v", fn["name"])
	}
}

func TestSaveMarkdown(t *testing.T) {
	conv := newTestConversation(t, false)
	mustAppend(t, conv, engine.Message{Role: engine.RoleUser, Content: "hola"})
	mustAppend(t, conv, engine.Message{
		Role:      engine.RoleAssistant,
		Content:   "leo el archivo",
		ToolCalls: []engine.ToolCall{{ID: "c1", Name: "read_file", Arguments: `{"file_path":"a.txt"}`}},
	})

	path := filepath.Join(t.TempDir(), "out.md")
	if err := conv.SaveMarkdown(path); err != nil {
		t.Fatalf("SaveMarkdown failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{"## Usuario", "## Asistente", "read_file", "hola"} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func mustAppend(t *testing.T, conv *Conversation, msg engine.Message) {
	t.Helper()
	if err := conv.Append(msg); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
}
