package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xiaozhch5/openclaw/internal/observability"
	"github.com/xiaozhch5/openclaw/pkg/agentsession"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
	finalOpen  = "<final>"
	finalClose = "</final>"

	mediaPrefix = "MEDIA:"

	maxToolTextLen     = 4000
	maxToolMetaLen     = 80
	truncationEllipsis = "…"
)

// stripThinking removes reasoning segments delimited by think markers. A
// lone unpaired marker is stripped on its own so stray tags never leak into
// replies.
func stripThinking(s string) string {
	for {
		open := strings.Index(s, thinkOpen)
		if open < 0 {
			break
		}
		rest := s[open+len(thinkOpen):]
		end := strings.Index(rest, thinkClose)
		if end < 0 {
			s = s[:open] + rest
			continue
		}
		s = s[:open] + rest[end+len(thinkClose):]
	}
	return strings.ReplaceAll(s, thinkClose, "")
}

// applyFinalTag extracts the text between final markers when both are
// present. A lone marker is tolerated by stripping it; without markers the
// text passes through unchanged.
func applyFinalTag(s string) string {
	open := strings.Index(s, finalOpen)
	if open >= 0 {
		rest := s[open+len(finalOpen):]
		if end := strings.Index(rest, finalClose); end >= 0 {
			return rest[:end]
		}
	}
	s = strings.ReplaceAll(s, finalOpen, "")
	return strings.ReplaceAll(s, finalClose, "")
}

// splitMedia pulls MEDIA:<ref> lines out of text, returning the remaining
// text and the extracted references.
func splitMedia(text string) (string, []string) {
	if !strings.Contains(text, mediaPrefix) {
		return text, nil
	}

	var media []string
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, mediaPrefix) {
			ref := strings.TrimSpace(strings.TrimPrefix(trimmed, mediaPrefix))
			if ref != "" {
				media = append(media, ref)
			}
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), media
}

// sanitizeToolPayload deep-copies a tool payload, truncating oversized
// strings and replacing raw binary fields with a size marker so payloads
// stay loggable and serializable.
func sanitizeToolPayload(p agentsession.ToolPayload) agentsession.ToolPayload {
	if p == nil {
		return nil
	}
	out := make(agentsession.ToolPayload, len(p))
	for k, v := range p {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return truncateText(val, maxToolTextLen)
	case []byte:
		observability.RecordToolBytesSanitized(len(val))
		return map[string]interface{}{"omitted": true, "bytes": len(val)}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[k] = sanitizeValue(inner)
		}
		return out
	case agentsession.ToolPayload:
		return map[string]interface{}(sanitizeToolPayload(val))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = sanitizeValue(inner)
		}
		return out
	default:
		return v
	}
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + truncationEllipsis
}

// metaArgKeys are probed in order when inferring a short tool label from
// invocation arguments.
var metaArgKeys = []string{"path", "file_path", "command", "cmd", "url", "query", "pattern", "name", "id"}

// inferToolMeta derives a short human-readable label from a tool's
// invocation arguments.
func inferToolMeta(args map[string]interface{}) string {
	for _, key := range metaArgKeys {
		raw, ok := args[key]
		if !ok {
			continue
		}
		if s, ok := raw.(string); ok && s != "" {
			return truncateText(s, maxToolMetaLen)
		}
	}
	return ""
}

// formatToolResult renders a sanitized tool payload into a reply, splitting
// out media references.
func formatToolResult(name, meta string, payload agentsession.ToolPayload) ToolResultReply {
	var body string
	if text, ok := payload["text"].(string); ok {
		body = text
	} else if len(payload) > 0 {
		if data, err := json.Marshal(payload); err == nil {
			body = truncateText(string(data), maxToolTextLen)
		}
	}

	text, media := splitMedia(body)
	text = strings.TrimSpace(text)

	label := name
	if meta != "" {
		label = fmt.Sprintf("%s (%s)", name, meta)
	}
	if text != "" {
		text = fmt.Sprintf("%s: %s", label, text)
	} else if len(media) == 0 {
		text = label
	}

	return ToolResultReply{
		ToolName:  name,
		Meta:      meta,
		Text:      text,
		MediaURLs: media,
	}
}
