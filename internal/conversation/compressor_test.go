package conversation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

// bigMessages builds a log whose estimate exceeds the compression
// threshold.
func bigMessages(n, charsEach int) []engine.Message {
	msgs := make([]engine.Message, 0, n)
	for i := 0; i < n; i++ {
		role := engine.RoleUser
		if i%2 == 1 {
			role = engine.RoleAssistant
		}
		msgs = append(msgs, engine.Message{Role: role, Content: strings.Repeat("a", charsEach)})
	}
	return msgs
}

func TestShouldCompress(t *testing.T) {
	cp := NewCompressor(t.TempDir())

	if cp.ShouldCompress(bigMessages(10, 100)) {
		t.Error("small conversations must not trigger compression")
	}
	// 40 messages × 6000 chars ≈ 60k tokens > 50k threshold.
	if !cp.ShouldCompress(bigMessages(40, 6000)) {
		t.Error("large conversations must trigger compression")
	}
}

func TestCompressKeepsTailAndWritesArchive(t *testing.T) {
	resumeDir := t.TempDir()
	cp := NewCompressor(resumeDir)

	msgs := bigMessages(40, 6000)
	compressed, err := cp.Compress(msgs, "sess1")
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	if len(compressed) != 21 {
		t.Fatalf("expected 21 messages (1 summary + 20 tail), got %d", len(compressed))
	}
	if compressed[0].Role != engine.RoleSystem {
		t.Errorf("first message after compression must be system, got %s", compressed[0].Role)
	}
	if !strings.Contains(compressed[0].Content, "COMPRESSED") {
		t.Errorf("summary must mention compression: %q", compressed[0].Content[:80])
	}

	// The last 20 messages survive verbatim.
	tail := msgs[len(msgs)-20:]
	for i, msg := range compressed[1:] {
		if msg.Content != tail[i].Content || msg.Role != tail[i].Role {
			t.Errorf("tail message %d altered by compression", i)
		}
	}

	archivePath := filepath.Join(resumeDir, "sess1_compressed.json")
	if _, err := os.Stat(archivePath); err != nil {
		t.Errorf("archive side-file missing: %v", err)
	}

	archive, err := cp.LoadArchive("sess1")
	if err != nil {
		t.Fatalf("LoadArchive failed: %v", err)
	}
	if archive.OriginalStats.TotalMessages != 40 {
		t.Errorf("archive stats wrong: %+v", archive.OriginalStats)
	}
	// The archive keeps the full pre-compression log, so the operation is
	// reversible.
	if len(archive.Messages) != 40 {
		t.Errorf("archive must keep all %d messages, got %d", 40, len(archive.Messages))
	}
}

func TestCompressIdempotent(t *testing.T) {
	cp := NewCompressor(t.TempDir())

	msgs := bigMessages(40, 6000)
	once, err := cp.Compress(msgs, "sess2")
	if err != nil {
		t.Fatalf("first Compress failed: %v", err)
	}
	twice, err := cp.Compress(once, "sess2")
	if err != nil {
		t.Fatalf("second Compress failed: %v", err)
	}

	if len(twice) != 21 {
		t.Errorf("re-compression must keep the 21-message shape, got %d", len(twice))
	}
	// The original tail is still verbatim after the second pass.
	for i := 1; i < len(once); i++ {
		if twice[i].Content != once[i].Content {
			t.Errorf("message %d changed across idempotent compression", i)
		}
	}
}

func TestCompressKeepsToolResultsWithTheirCall(t *testing.T) {
	cp := NewCompressor(t.TempDir())

	// Build a log where the naive 20-message cut would land on a tool
	// result, separating it from its assistant message.
	msgs := bigMessages(39, 6000)
	msgs = append(msgs,
		engine.Message{
			Role:      engine.RoleAssistant,
			ToolCalls: []engine.ToolCall{{ID: "c9", Name: "read_file", Arguments: `{"file_path":"x"}`}},
		},
		engine.Message{Role: engine.RoleTool, ToolCallID: "c9", ToolName: "read_file", Content: "{}"},
	)
	// Pad so the naive cut boundary (len-20) lands exactly on the tool
	// message.
	for i := 0; i < 19; i++ {
		msgs = append(msgs, engine.Message{Role: engine.RoleUser, Content: "sigue"})
	}

	compressed, err := cp.Compress(msgs, "sess3")
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	// Every tool message in the result must be preceded by an assistant
	// message carrying a matching call id.
	seen := map[string]bool{}
	for _, msg := range compressed {
		for _, tc := range msg.ToolCalls {
			seen[tc.ID] = true
		}
		if msg.Role == engine.RoleTool && !seen[msg.ToolCallID] {
			t.Errorf("tool result %s lost its assistant call", msg.ToolCallID)
		}
	}
}

func TestCompressionTriggeredByAppend(t *testing.T) {
	conv := newTestConversation(t, true)

	// Push the log over the threshold; Append consults the compressor
	// before every insertion.
	for i := 0; i < 40; i++ {
		mustAppend(t, conv, engine.Message{Role: engine.RoleUser, Content: strings.Repeat("b", 6000)})
	}
	mustAppend(t, conv, engine.Message{Role: engine.RoleUser, Content: "una más"})

	if conv.CompressionCount() == 0 {
		t.Fatal("compression must have fired")
	}
	msgs := conv.Messages()
	if msgs[0].Role != engine.RoleSystem || !strings.Contains(msgs[0].Content, "COMPRESSED") {
		t.Error("first message must be the compression summary")
	}
	if conv.Len() >= 41 {
		t.Errorf("log must have been truncated, got %d messages", conv.Len())
	}

	archive := filepath.Join(filepath.Dir(filepath.Dir(conv.FilePath())), "resume",
		conv.SessionID+"_compressed.json")
	if _, err := os.Stat(archive); err != nil {
		t.Errorf("archive side-file missing: %v", err)
	}
}
