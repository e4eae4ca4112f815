package stream

import (
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const (
	openAIDone        = "[DONE]"
	openAIContentPath = "choices.0.delta.content"
	geminiTextPath    = "candidates.0.content.parts.0.text"
)

type openAICodec struct{}

func (openAICodec) decode(payload string) (Frame, bool) {
	if payload == openAIDone {
		return Frame{Terminal: true}, true
	}
	return textAt(payload, openAIContentPath)
}

// Gemini has no end sentinel: the stream simply closes.
type geminiCodec struct{}

func (geminiCodec) decode(payload string) (Frame, bool) {
	return textAt(payload, geminiTextPath)
}

func textAt(payload, path string) (Frame, bool) {
	if payload == "" {
		return Frame{}, false
	}
	if !gjson.Valid(payload) {
		logDrop("malformed frame", payload)
		return Frame{}, false
	}
	v := gjson.Get(payload, path)
	if !v.Exists() {
		// role-only deltas and finish_reason frames land here
		logDrop("frame without content", payload)
		return Frame{}, false
	}
	return Frame{Delta: v.String()}, true
}

func logDrop(reason, line string) {
	const limit = 200
	if len(line) > limit {
		line = line[:limit] + "…"
	}
	log.Debug().Str("reason", reason).Str("line", line).Msg("stream: frame dropped")
}
