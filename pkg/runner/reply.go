package runner

import (
	"strings"
	"time"

	"github.com/xiaozhch5/openclaw/pkg/agentsession"
)

type replyInput struct {
	blocks      []string
	inlineTools []ToolResultReply
	fallback    string
	errorText   string
	aborted     bool
	duration    time.Duration
	meta        *AgentMeta
}

// assembleReply builds the final payload: surfaced error first, inline tool
// results next, then the reply blocks (or the fallback text when streaming
// produced no blocks). Empty items are dropped.
func assembleReply(in replyInput) *ReplyPayload {
	items := make([]ReplyItem, 0, len(in.blocks)+len(in.inlineTools)+1)

	if in.errorText != "" {
		items = appendTextItem(items, in.errorText)
	}

	for _, res := range in.inlineTools {
		item := ReplyItem{Text: strings.TrimSpace(res.Text)}
		item = attachMedia(item, res.MediaURLs)
		if item.Text != "" || item.MediaURL != "" || len(item.MediaURLs) > 0 {
			items = append(items, item)
		}
	}

	blocks := in.blocks
	if len(blocks) == 0 && in.fallback != "" {
		blocks = []string{in.fallback}
	}
	for _, block := range blocks {
		items = appendTextItem(items, block)
	}

	return &ReplyPayload{
		Items:      items,
		DurationMs: in.duration.Milliseconds(),
		Aborted:    in.aborted,
		AgentMeta:  in.meta,
	}
}

// appendTextItem splits media references out of the text and appends the
// resulting item unless it is empty.
func appendTextItem(items []ReplyItem, text string) []ReplyItem {
	clean, media := splitMedia(text)
	clean = strings.TrimSpace(clean)
	if clean == "" && len(media) == 0 {
		return items
	}
	return append(items, attachMedia(ReplyItem{Text: clean}, media))
}

func attachMedia(item ReplyItem, media []string) ReplyItem {
	switch len(media) {
	case 0:
	case 1:
		item.MediaURL = media[0]
	default:
		item.MediaURL = media[0]
		item.MediaURLs = media
	}
	return item
}

// lastAssistantMessage returns the most recent assistant turn, if any.
func lastAssistantMessage(history []agentsession.Message) *agentsession.Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "assistant" {
			return &history[i]
		}
	}
	return nil
}
