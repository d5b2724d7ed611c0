package server

import (
	"encoding/json"
	"testing"
)

func wrapContent(t *testing.T, text string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"content": []map[string]string{{"type": "text", "text": text}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestParseSearchResultsArray(t *testing.T) {
	docs := parseSearchDocuments(wrapContent(t,
		`{"results":[{"CONTEXTUALIZED_CHUNK":"alpha"},{"text":"beta"}]}`))

	if len(docs) != 2 {
		t.Fatalf("docs = %d", len(docs))
	}
	if docs[0].Chunk != "alpha" {
		t.Errorf("doc 0 chunk = %q", docs[0].Chunk)
	}
	if docs[1].Chunk != "beta" {
		t.Errorf("doc 1 chunk = %q (text fallback)", docs[1].Chunk)
	}
	if docs[0].Metadata == nil {
		t.Error("metadata not carried")
	}
}

func TestParseSearchBareArray(t *testing.T) {
	docs := parseSearchDocuments(wrapContent(t, `[{"text":"one"},"two"]`))
	if len(docs) != 2 {
		t.Fatalf("docs = %d", len(docs))
	}
	if docs[0].Chunk != "one" || docs[1].Chunk != `"two"` {
		t.Errorf("chunks = %q, %q", docs[0].Chunk, docs[1].Chunk)
	}
}

func TestParseSearchPlainText(t *testing.T) {
	docs := parseSearchDocuments(wrapContent(t, "no hits found"))
	if len(docs) != 1 {
		t.Fatalf("docs = %d", len(docs))
	}
	if docs[0].Source != "text_response" || docs[0].Chunk != "no hits found" {
		t.Errorf("doc = %+v", docs[0])
	}
}

func TestParseSearchSingleObject(t *testing.T) {
	docs := parseSearchDocuments(wrapContent(t, `{"summary":"only one"}`))
	if len(docs) != 1 {
		t.Fatalf("docs = %d", len(docs))
	}
	if docs[0].Source != "remote_search" {
		t.Errorf("source = %q", docs[0].Source)
	}
}

func TestParseSearchMalformedResult(t *testing.T) {
	docs := parseSearchDocuments(json.RawMessage(`{broken`))
	if len(docs) != 0 {
		t.Errorf("docs = %d, want 0", len(docs))
	}
}
