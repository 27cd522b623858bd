package invoke

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

var errTrailingData = errors.New("trailing data after JSON value")

var toolRoles = map[string]bool{
	"tool_use":    true,
	"tool_result": true,
	"tool_call":   true,
	"tool":        true,
}

// ParseOutput extracts the human-readable text and the tool activity from the
// runtime's stdout. It never fails: unrecognized input degrades to the raw
// text.
func ParseOutput(stdout string) (string, []map[string]any) {
	// Tool logs from the document form survive into the line pass.
	var logs []map[string]any
	doc := strings.TrimSpace(stdout)
	if obj, ok := decodeObject(doc); ok {
		if payloads, has := obj["payloads"]; has {
			var texts []string
			texts, logs = collectPayloads(payloads, obj["meta"])
			if len(texts) > 0 {
				return strings.Join(texts, "\n"), logs
			}
		}
	}

	// The document form yielded no text; start over line by line.
	var texts []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var v any
		if err := decode(line, &v); err != nil {
			texts = append(texts, line)
			continue
		}
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if payloads, has := obj["payloads"]; has {
			t, l := collectPayloads(payloads, obj["meta"])
			texts = append(texts, t...)
			if line != doc {
				logs = append(logs, l...)
			}
			continue
		}
		role, _ := obj["role"].(string)
		switch {
		case role == "assistant" || role == "text":
			content := obj["content"]
			if !truthy(content) {
				content = obj["text"]
			}
			texts = append(texts, stringForm(content))
		case toolRoles[role]:
			logs = append(logs, obj)
		default:
			if out, has := obj["output"]; has {
				texts = append(texts, stringForm(out))
			} else if msg, isStr := obj["message"].(string); isStr {
				texts = append(texts, msg)
			} else {
				logs = append(logs, obj)
			}
		}
	}
	if len(texts) == 0 {
		return stdout, logs
	}
	return strings.Join(texts, "\n"), logs
}

func collectPayloads(payloads, meta any) ([]string, []map[string]any) {
	var texts []string
	var logs []map[string]any
	if list, ok := payloads.([]any); ok {
		for _, item := range list {
			p, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := p["text"].(string); ok && text != "" {
				texts = append(texts, text)
			}
		}
	}
	if m, ok := meta.(map[string]any); ok && len(m) > 0 {
		entry := map[string]any{"type": "openclaw_meta"}
		for k, v := range m {
			entry[k] = v
		}
		logs = append(logs, entry)
	}
	return texts, logs
}

func decodeObject(s string) (map[string]any, bool) {
	var v any
	if err := decode(s, &v); err != nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

// decode keeps numbers as json.Number so tool logs re-encode verbatim and
// rejects trailing data after the first value.
func decode(s string, v any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case json.Number:
		return x.String() != "0"
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

// stringForm renders a decoded JSON value as text: strings verbatim, anything
// else as compact JSON.
func stringForm(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}
