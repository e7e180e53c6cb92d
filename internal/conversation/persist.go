package conversation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

// storedToolCall is the canonical on-disk tool-call shape, the same shape
// the OpenAI-compatible wire uses.
type storedToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// storedMessage is the on-disk message shape.
type storedMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []storedToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

type sessionFile struct {
	SessionID string          `json:"session_id"`
	Metadata  Metadata        `json:"metadata"`
	Messages  []storedMessage `json:"messages"`
}

func toStored(msg engine.Message) storedMessage {
	sm := storedMessage{
		Role:       string(msg.Role),
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
		Name:       msg.ToolName,
		Timestamp:  msg.Timestamp,
	}
	for _, tc := range msg.ToolCalls {
		stc := storedToolCall{ID: tc.ID, Type: "function"}
		stc.Function.Name = tc.Name
		stc.Function.Arguments = tc.Arguments
		sm.ToolCalls = append(sm.ToolCalls, stc)
	}
	return sm
}

func fromStored(sm storedMessage) engine.Message {
	msg := engine.Message{
		Role:       engine.MessageRole(sm.Role),
		Content:    sm.Content,
		ToolCallID: sm.ToolCallID,
		ToolName:   sm.Name,
		Timestamp:  sm.Timestamp,
	}
	for _, stc := range sm.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, engine.ToolCall{
			ID:        stc.ID,
			Name:      stc.Function.Name,
			Arguments: stc.Function.Arguments,
		})
	}
	return msg
}

// FilePath returns the session's on-disk location.
func (c *Conversation) FilePath() string {
	return filepath.Join(c.historyDir, fmt.Sprintf("session_%s.json", c.SessionID))
}

// Save persists the conversation to disk.
func (c *Conversation) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

// saveLocked writes the session file atomically: temp file then rename, so
// a crash mid-write never leaves a truncated log.
func (c *Conversation) saveLocked() error {
	file := sessionFile{
		SessionID: c.SessionID,
		Metadata:  c.metadata,
	}
	for _, msg := range c.messages {
		file.Messages = append(file.Messages, toStored(msg))
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	path := c.FilePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Load reads a previously saved session from disk into this conversation.
func (c *Conversation) Load(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := filepath.Join(c.historyDir, fmt.Sprintf("session_%s.json", sessionID))
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read session file: %w", err)
	}

	var file sessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse session file: %w", err)
	}

	c.SessionID = file.SessionID
	c.metadata = file.Metadata
	c.messages = nil
	for _, sm := range file.Messages {
		c.messages = append(c.messages, fromStored(sm))
	}
	return nil
}

// SaveMarkdown exports the conversation as a readable markdown transcript.
func (c *Conversation) SaveMarkdown(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "# Conversación %s\n\n", c.SessionID)
	fmt.Fprintf(&b, "Creada: %s\n\n", c.metadata.CreatedAt.Format(time.RFC3339))

	for _, msg := range c.messages {
		switch msg.Role {
		case engine.RoleSystem:
			b.WriteString("## Sistema\n\n")
		case engine.RoleUser:
			b.WriteString("## Usuario\n\n")
		case engine.RoleAssistant:
			b.WriteString("## Asistente\n\n")
		case engine.RoleTool:
			fmt.Fprintf(&b, "## Herramienta (%s)\n\n", msg.ToolName)
		}
		if msg.Content != "" {
			b.WriteString(msg.Content)
			b.WriteString("\n\n")
		}
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&b, "- `%s(%s)`\n", tc.Name, tc.Arguments)
		}
		if len(msg.ToolCalls) > 0 {
			b.WriteString("\n")
		}
	}

	return os.WriteFile(path, []byte(b.String()), 0o600)
}
