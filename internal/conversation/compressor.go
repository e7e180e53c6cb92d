package conversation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

const (
	// defaultMaxTokens is the context budget the compressor works under.
	defaultMaxTokens = 150_000
	// defaultThreshold triggers compression when the estimate crosses it.
	defaultThreshold = 50_000
	// keepRecentCount messages survive compression verbatim.
	keepRecentCount = 20
)

// decisionKeywords mark assistant messages worth keeping in the summary.
var decisionKeywords = []string{
	"completed", "finished", "done", "created", "modified",
	"changed", "updated", "fixed", "implemented",
}

// Compressor replaces older messages with a mechanically synthesised
// summary once the conversation outgrows its threshold. Summaries are
// built from message statistics only; no model call is involved, so the
// operation is deterministic and free of network side effects.
type Compressor struct {
	MaxTokens int
	Threshold int
	resumeDir string
}

// NewCompressor creates a compressor archiving replaced tails under
// resumeDir.
func NewCompressor(resumeDir string) *Compressor {
	return &Compressor{
		MaxTokens: defaultMaxTokens,
		Threshold: defaultThreshold,
		resumeDir: resumeDir,
	}
}

// ShouldCompress reports whether the log has outgrown the threshold.
func (cp *Compressor) ShouldCompress(messages []engine.Message) bool {
	return estimateTokens(messages) > cp.Threshold
}

// Archive is the reversible pre-compression record written to the resume
// directory.
type Archive struct {
	SessionID     string `json:"session_id"`
	CompressedAt  string `json:"compressed_at"`
	OriginalStats struct {
		TotalMessages int `json:"total_messages"`
		TotalTokens   int `json:"total_tokens"`
	} `json:"original_stats"`
	ToolUsage struct {
		TotalToolCalls int      `json:"total_tool_calls"`
		ToolsUsed      []string `json:"tools_used"`
	} `json:"tool_usage"`
	ImportantDecisions []string         `json:"important_decisions"`
	KeyFiles           []string         `json:"key_files"`
	SummaryText        string           `json:"summary_text"`
	Messages           []storedMessage  `json:"messages"`
}

// Compress returns the truncated log: one synthesised system message
// followed by the last messages verbatim. The replaced portion is archived
// so the operation is reversible. Running Compress on an already-compressed
// log keeps the recent-tail invariant.
func (cp *Compressor) Compress(messages []engine.Message, sessionID string) ([]engine.Message, error) {
	analysis := analyze(messages)

	if err := cp.saveArchive(messages, analysis, sessionID); err != nil {
		return nil, err
	}

	start := len(messages) - keepRecentCount
	if start < 0 {
		start = 0
	}
	// Never orphan a tool result: pull the boundary back until the tail
	// does not start with role=tool, so results stay with their assistant.
	for start > 0 && messages[start].Role == engine.RoleTool {
		start--
	}

	tail := append([]engine.Message(nil), messages[start:]...)

	summary := engine.Message{
		Role: engine.RoleSystem,
		Content: fmt.Sprintf(
			"CONTEXT COMPRESSED: %s\n\nThis conversation has been compressed to save tokens. Key information from previous messages is summarized above.",
			analysis.summaryText(),
		),
		Timestamp: time.Now(),
	}

	return append([]engine.Message{summary}, tail...), nil
}

// LoadArchive reads a previously written compression archive.
func (cp *Compressor) LoadArchive(sessionID string) (*Archive, error) {
	path := filepath.Join(cp.resumeDir, fmt.Sprintf("%s_compressed.json", sessionID))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compression archive: %w", err)
	}
	var archive Archive
	if err := json.Unmarshal(data, &archive); err != nil {
		return nil, fmt.Errorf("failed to parse compression archive: %w", err)
	}
	return &archive, nil
}

func (cp *Compressor) saveArchive(messages []engine.Message, a conversationAnalysis, sessionID string) error {
	if err := os.MkdirAll(cp.resumeDir, 0o700); err != nil {
		return fmt.Errorf("failed to create resume directory: %w", err)
	}

	archive := Archive{
		SessionID:          sessionID,
		CompressedAt:       time.Now().Format(time.RFC3339),
		ImportantDecisions: a.lastDecisions(10),
		KeyFiles:           a.topFiles(20),
		SummaryText:        a.summaryText(),
	}
	archive.OriginalStats.TotalMessages = a.totalMessages
	archive.OriginalStats.TotalTokens = a.totalTokens
	archive.ToolUsage.TotalToolCalls = a.totalToolCalls
	archive.ToolUsage.ToolsUsed = a.toolsUsed()
	for _, msg := range messages {
		archive.Messages = append(archive.Messages, toStored(msg))
	}

	data, err := json.MarshalIndent(archive, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal compression archive: %w", err)
	}

	path := filepath.Join(cp.resumeDir, fmt.Sprintf("%s_compressed.json", sessionID))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write compression archive: %w", err)
	}
	return nil
}

// conversationAnalysis collects the statistics that feed the summary.
type conversationAnalysis struct {
	totalMessages  int
	totalTokens    int
	totalToolCalls int
	toolCounts     map[string]int
	fileCounts     map[string]int
	decisions      []string
}

func analyze(messages []engine.Message) conversationAnalysis {
	a := conversationAnalysis{
		totalMessages: len(messages),
		totalTokens:   estimateTokens(messages),
		toolCounts:    make(map[string]int),
		fileCounts:    make(map[string]int),
	}

	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			a.totalToolCalls++
			a.toolCounts[tc.Name]++

			switch tc.Name {
			case "read_file", "write_file", "edit_file":
				var args struct {
					FilePath string `json:"file_path"`
				}
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err == nil && args.FilePath != "" {
					a.fileCounts[args.FilePath]++
				}
			}
		}

		if msg.Role == engine.RoleAssistant && msg.Content != "" {
			lower := strings.ToLower(msg.Content)
			for _, kw := range decisionKeywords {
				if strings.Contains(lower, kw) {
					content := msg.Content
					if len(content) > 200 {
						content = content[:200]
					}
					a.decisions = append(a.decisions, content)
					break
				}
			}
		}
	}
	return a
}

func (a conversationAnalysis) toolsUsed() []string {
	names := make([]string, 0, len(a.toolCounts))
	for name := range a.toolCounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a conversationAnalysis) lastDecisions(n int) []string {
	if len(a.decisions) <= n {
		return a.decisions
	}
	return a.decisions[len(a.decisions)-n:]
}

func (a conversationAnalysis) topFiles(n int) []string {
	type fileCount struct {
		file  string
		count int
	}
	counts := make([]fileCount, 0, len(a.fileCounts))
	for file, count := range a.fileCounts {
		counts = append(counts, fileCount{file, count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].file < counts[j].file
	})
	if len(counts) > n {
		counts = counts[:n]
	}
	files := make([]string, 0, len(counts))
	for _, fc := range counts {
		files = append(files, fc.file)
	}
	return files
}

// summaryText renders the human-readable summary included in the synthetic
// system message.
func (a conversationAnalysis) summaryText() string {
	var lines []string

	lines = append(lines, fmt.Sprintf(
		"This conversation had %d messages and used approximately %d tokens.",
		a.totalMessages, a.totalTokens,
	))

	if a.totalToolCalls > 0 {
		var parts []string
		for _, name := range a.toolsUsed() {
			parts = append(parts, fmt.Sprintf("%s (%dx)", name, a.toolCounts[name]))
		}
		lines = append(lines, fmt.Sprintf("Used %d tools: %s", a.totalToolCalls, strings.Join(parts, ", ")))
	}

	if len(a.fileCounts) > 0 {
		var parts []string
		for _, file := range a.topFiles(5) {
			parts = append(parts, fmt.Sprintf("%s (%dx)", file, a.fileCounts[file]))
		}
		lines = append(lines, fmt.Sprintf("Worked with %d files, top files: %s", len(a.fileCounts), strings.Join(parts, ", ")))
	}

	if len(a.decisions) > 0 {
		lines = append(lines, fmt.Sprintf("Made %d important decisions/completions.", len(a.decisions)))
		lines = append(lines, "Recent decisions: "+strings.Join(a.lastDecisions(10), " | "))
	}

	return strings.Join(lines, " ")
}
