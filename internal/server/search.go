package server

import (
	"encoding/json"
	"fmt"

	"github.com/mrecos/mcp-gateway/internal/interpret"
)

// document is one normalized search hit returned to front-end callers.
type document struct {
	Chunk    string         `json:"CONTEXTUALIZED_CHUNK"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// parseSearchDocuments extracts search hits from a tool result. Search tools
// return textual content items whose text is itself JSON: either an object
// with a results array, a bare array, or a single object. Non-JSON text is
// kept as a plain-text hit.
func parseSearchDocuments(raw json.RawMessage) []document {
	docs := []document{}

	var res struct {
		Content []interpret.ContentItem `json:"content"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return docs
	}

	for _, item := range res.Content {
		if item.Type != "text" || item.Text == "" {
			continue
		}

		var parsed any
		if err := json.Unmarshal([]byte(item.Text), &parsed); err != nil {
			docs = append(docs, document{Chunk: item.Text, Source: "text_response"})
			continue
		}

		switch v := parsed.(type) {
		case map[string]any:
			if results, ok := v["results"].([]any); ok {
				for _, entry := range results {
					docs = append(docs, documentFromEntry(entry))
				}
			} else {
				docs = append(docs, document{Chunk: renderValue(v), Source: "remote_search"})
			}
		case []any:
			for _, entry := range v {
				docs = append(docs, documentFromEntry(entry))
			}
		default:
			docs = append(docs, document{Chunk: renderValue(v), Source: "remote_search"})
		}
	}

	return docs
}

func documentFromEntry(entry any) document {
	m, ok := entry.(map[string]any)
	if !ok {
		return document{Chunk: renderValue(entry), Source: "remote_search"}
	}

	chunk := ""
	if s, ok := m["CONTEXTUALIZED_CHUNK"].(string); ok {
		chunk = s
	} else if s, ok := m["text"].(string); ok {
		chunk = s
	} else {
		chunk = renderValue(m)
	}

	return document{Chunk: chunk, Source: "remote_search", Metadata: m}
}

func renderValue(v any) string {
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}
