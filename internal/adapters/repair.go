package adapters

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

func newCallID() string {
	return "call_" + uuid.NewString()[:8]
}

var (
	fencedToolCodeRe = regexp.MustCompile("(?s)```tool_code\\s*\n?(.*?)```")
	xmlToolCallRe    = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)
	nameCallRe       = regexp.MustCompile(`(?s)^\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\((.*)\)\s*$`)
	accionPrefixRe   = regexp.MustCompile(`(?i)^\s*\[Acci[oó]n:\s*(.+?)\]\s*`)
)

// shellCommands are the leading words that mark a repaired snippet as a
// shell invocation rather than prose.
var shellCommands = map[string]bool{
	"ls": true, "cat": true, "grep": true, "find": true, "pwd": true,
	"cd": true, "mkdir": true, "rm": true, "cp": true, "mv": true,
	"touch": true, "echo": true, "head": true, "tail": true, "wc": true,
	"git": true, "npm": true, "pip": true, "python": true, "python3": true,
	"node": true, "go": true, "make": true, "curl": true, "wget": true,
	"chmod": true, "which": true, "tree": true, "sed": true, "awk": true,
}

func looksLikeShellCommand(s string) bool {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	return shellCommands[fields[0]]
}

func bashCall(command string) engine.ToolCall {
	args, _ := json.Marshal(map[string]string{"command": command})
	return engine.ToolCall{
		ID:        newCallID(),
		Name:      "execute_bash",
		Arguments: string(args),
	}
}

// repairFencedToolCode extracts ```tool_code fenced blocks containing
// either a shell-style command or a name(json_args) call.
func repairFencedToolCode(text string) ([]engine.ToolCall, string, bool) {
	matches := fencedToolCodeRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil, text, false
	}

	var calls []engine.ToolCall
	var b strings.Builder
	last := 0

	for _, m := range matches {
		body := strings.TrimSpace(text[m[2]:m[3]])
		if body == "" {
			continue
		}
		if nm := nameCallRe.FindStringSubmatch(body); nm != nil && json.Valid([]byte(strings.TrimSpace(nm[2]))) {
			calls = append(calls, engine.ToolCall{
				ID:        newCallID(),
				Name:      nm[1],
				Arguments: strings.TrimSpace(nm[2]),
			})
		} else {
			calls = append(calls, bashCall(body))
		}
		b.WriteString(text[last:m[0]])
		last = m[1]
	}
	b.WriteString(text[last:])

	if len(calls) == 0 {
		return nil, text, false
	}
	return calls, b.String(), true
}

// repairXMLWrapped extracts <tool_call>{…}</tool_call> wrappers.
func repairXMLWrapped(text string) ([]engine.ToolCall, string, bool) {
	matches := xmlToolCallRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil, text, false
	}

	var calls []engine.ToolCall
	var b strings.Builder
	last := 0

	for _, m := range matches {
		if call, ok := parseCallObject(text[m[2]:m[3]]); ok {
			calls = append(calls, call)
			b.WriteString(text[last:m[0]])
			last = m[1]
		}
	}
	b.WriteString(text[last:])

	if len(calls) == 0 {
		return nil, text, false
	}
	return calls, b.String(), true
}

// repairBareJSON scans for bare JSON objects shaped {"name":…,"arguments":…}
// (or {"function":…}) anywhere in the text.
func repairBareJSON(text string) ([]engine.ToolCall, string, bool) {
	var calls []engine.ToolCall
	var b strings.Builder
	last := 0
	pos := 0

	for {
		open := strings.Index(text[pos:], "{")
		if open == -1 {
			break
		}
		start := pos + open
		end := findMatchingBrace(text, start)
		if end == start {
			pos = start + 1
			continue
		}
		if call, ok := parseCallObject(text[start:end]); ok {
			calls = append(calls, call)
			b.WriteString(text[last:start])
			last = end
			pos = end
			continue
		}
		pos = start + 1
	}
	b.WriteString(text[last:])

	if len(calls) == 0 {
		return nil, text, false
	}
	return calls, b.String(), true
}

// repairAccionPrefix strips the small-Llama "[Acción: …]" pseudo-prefix and
// reinterprets it as a bash call when it names a shell command.
func repairAccionPrefix(text string) ([]engine.ToolCall, string, bool) {
	m := accionPrefixRe.FindStringSubmatchIndex(text)
	if m == nil {
		return nil, text, false
	}
	action := strings.TrimSpace(text[m[2]:m[3]])
	if !looksLikeShellCommand(action) {
		return nil, text, false
	}
	return []engine.ToolCall{bashCall(action)}, text[m[1]:], true
}

// parseCallObject decodes one candidate JSON object into a ToolCall.
// Accepted shapes: {"name":…,"arguments":…}, {"name":…,"parameters":…} and
// {"function":{"name":…,"arguments":…}}. Arguments may be an object or an
// encoded string.
func parseCallObject(raw string) (engine.ToolCall, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return engine.ToolCall{}, false
	}

	if fn, ok := obj["function"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(fn, &inner); err != nil {
			return engine.ToolCall{}, false
		}
		obj = inner
	}

	nameRaw, ok := obj["name"]
	if !ok {
		return engine.ToolCall{}, false
	}
	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil || name == "" {
		return engine.ToolCall{}, false
	}

	argsRaw, ok := obj["arguments"]
	if !ok {
		argsRaw, ok = obj["parameters"]
	}
	args := "{}"
	if ok {
		// Arguments arrive either as an object or a JSON-encoded string.
		var asString string
		if err := json.Unmarshal(argsRaw, &asString); err == nil {
			if json.Valid([]byte(asString)) {
				args = asString
			}
		} else if json.Valid(argsRaw) {
			args = string(argsRaw)
		}
	}

	id := newCallID()
	if idRaw, ok := obj["id"]; ok {
		var parsed string
		if err := json.Unmarshal(idRaw, &parsed); err == nil && parsed != "" {
			id = parsed
		}
	}

	return engine.ToolCall{ID: id, Name: name, Arguments: args}, true
}

// findMatchingBrace finds the index after the closing brace matching the
// opening brace at pos, accounting for braces inside strings and escapes.
func findMatchingBrace(text string, pos int) int {
	if pos < 0 || pos >= len(text) || text[pos] != '{' {
		return pos
	}

	depth := 0
	inString := false
	escaped := false

	for i := pos; i < len(text); i++ {
		char := text[i]

		if inString {
			if escaped {
				escaped = false
			} else if char == '\\' {
				escaped = true
			} else if char == '"' {
				inString = false
			}
			continue
		}

		if char == '"' {
			inString = true
			continue
		}

		if char == '{' {
			depth++
		} else if char == '}' {
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return pos
}
