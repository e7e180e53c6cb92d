// Package conversation owns the append-only message log: persistence,
// provider-bound views, token estimation and automatic compression.
package conversation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

// Metadata captures session-level bookkeeping persisted with the log.
type Metadata struct {
	CreatedAt          time.Time `json:"created_at"`
	LastUpdated        time.Time `json:"last_updated"`
	CompressionEnabled bool      `json:"compression_enabled"`
	CompressionCount   int       `json:"compression_count"`
}

// Conversation manages the message log. It is the exclusive mutator:
// Append is the only way in, and every append persists the updated log.
type Conversation struct {
	mu sync.Mutex

	SessionID string
	messages  []engine.Message
	metadata  Metadata

	historyDir string
	autoSave   bool
	compressor *Compressor
}

// Options configures a new Conversation.
type Options struct {
	BaseDir           string // defaults to $HOME/.iabuilder
	SessionID         string // defaults to a timestamp id
	AutoSave          bool
	EnableCompression bool
	SystemPrompt      string
}

// New creates a conversation, seeding it with the system prompt when one
// is given.
func New(opts Options) (*Conversation, error) {
	baseDir := opts.BaseDir
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".iabuilder")
	}

	historyDir := filepath.Join(baseDir, "history")
	if err := os.MkdirAll(historyDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = time.Now().Format("20060102_150405")
	}

	c := &Conversation{
		SessionID:  sessionID,
		historyDir: historyDir,
		autoSave:   opts.AutoSave,
		metadata: Metadata{
			CreatedAt:          time.Now(),
			LastUpdated:        time.Now(),
			CompressionEnabled: opts.EnableCompression,
		},
	}
	if opts.EnableCompression {
		c.compressor = NewCompressor(filepath.Join(baseDir, "resume"))
	}

	if opts.SystemPrompt != "" {
		if err := c.Append(engine.Message{Role: engine.RoleSystem, Content: opts.SystemPrompt}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Append adds a message to the log. Before insertion it consults the
// compressor, normalises tool calls into the canonical shape, timestamps
// the message and persists the updated log.
func (c *Conversation) Append(msg engine.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.compressor != nil && c.compressor.ShouldCompress(c.messages) {
		if err := c.compressLocked(); err != nil {
			return err
		}
	}

	msg.ToolCalls = normalizeToolCalls(msg.ToolCalls)
	msg.Timestamp = time.Now()
	c.messages = append(c.messages, msg)
	c.metadata.LastUpdated = msg.Timestamp

	if c.autoSave {
		return c.saveLocked()
	}
	return nil
}

// normalizeToolCalls guarantees ids and well-formed argument JSON no matter
// which provider produced the calls.
func normalizeToolCalls(calls []engine.ToolCall) []engine.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]engine.ToolCall, 0, len(calls))
	for _, tc := range calls {
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()[:8]
		}
		if strings.TrimSpace(tc.Arguments) == "" || !json.Valid([]byte(tc.Arguments)) {
			tc.Arguments = "{}"
		}
		out = append(out, tc)
	}
	return out
}

// Messages returns a copy of the log.
func (c *Conversation) Messages() []engine.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]engine.Message(nil), c.messages...)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// CompressionCount returns how many times the log has been compressed.
func (c *Conversation) CompressionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata.CompressionCount
}

const toolResultLimit = 2000

// MessagesForAPI produces the provider-bound view of the log.
//
// With convertToolsToText=true (the universal fallback for providers whose
// chat schema cannot represent tool messages) assistant tool calls collapse
// into a text description and tool results become user messages. With
// false, tool_calls and role=tool messages pass through natively.
func (c *Conversation) MessagesForAPI(convertToolsToText bool) []engine.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]engine.Message, 0, len(c.messages))
	for _, msg := range c.messages {
		switch {
		case msg.Role == engine.RoleAssistant && len(msg.ToolCalls) > 0:
			if !convertToolsToText {
				out = append(out, msg)
				continue
			}
			var descriptions []string
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if len(args) > 100 {
					args = args[:100] + "..."
				}
				descriptions = append(descriptions, fmt.Sprintf("Ejecuté %s(%s)", tc.Name, args))
			}
			content := strings.Join(descriptions, "\n")
			if msg.Content != "" {
				content = msg.Content + "\n" + content
			}
			out = append(out, engine.Message{Role: engine.RoleAssistant, Content: content})

		case msg.Role == engine.RoleTool:
			if !convertToolsToText {
				out = append(out, msg)
				continue
			}
			content := msg.Content
			if len(content) > toolResultLimit {
				content = content[:toolResultLimit] + "\n... [resultado truncado]"
			}
			out = append(out, engine.Message{
				Role:    engine.RoleUser,
				Content: fmt.Sprintf("[Resultado de %s]:\n%s", msg.ToolName, content),
			})

		default:
			out = append(out, msg)
		}
	}
	return out
}

// EstimatedTokens applies the 4-characters-per-token heuristic across all
// message content and JSON-encoded tool-call arguments.
func (c *Conversation) EstimatedTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return estimateTokens(c.messages)
}

func estimateTokens(messages []engine.Message) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Content)
		for _, tc := range msg.ToolCalls {
			totalChars += len(tc.Name) + len(tc.Arguments) + 50
		}
	}
	return totalChars / 4
}

// Compress forces a compression pass regardless of the threshold. Used by
// the /compress command.
func (c *Conversation) Compress() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.compressor == nil {
		return fmt.Errorf("compression is disabled for this session")
	}
	if err := c.compressLocked(); err != nil {
		return err
	}
	if c.autoSave {
		return c.saveLocked()
	}
	return nil
}

func (c *Conversation) compressLocked() error {
	compressed, err := c.compressor.Compress(c.messages, c.SessionID)
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}
	c.messages = compressed
	c.metadata.CompressionCount++
	return nil
}

// Reset drops every message, preserving the session id. The caller re-seeds
// the system prompt.
func (c *Conversation) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.metadata.LastUpdated = time.Now()
	if c.autoSave {
		return c.saveLocked()
	}
	return nil
}
