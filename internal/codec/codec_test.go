package codec_test

import (
	"reflect"
	"testing"

	"chronoline/internal/codec"
	"chronoline/internal/schema"
)

func entity(t *testing.T, kind string) schema.Entity {
	t.Helper()
	e, ok := schema.Lookup(kind)
	if !ok {
		t.Fatalf("unknown kind %s", kind)
	}
	return e
}

func TestDecodeParsesStructuredColumns(t *testing.T) {
	tickets := entity(t, schema.KindTicket)
	rec := map[string]any{
		"tags":    `["billing","urgent"]`,
		"history": `[{"event":"created"}]`,
		"title":   "[not a tag field]",
	}
	out := codec.Decode(tickets, rec)
	tags, ok := out["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "billing" {
		t.Fatalf("tags not decoded: %#v", out["tags"])
	}
	if _, ok := out["history"].([]any); !ok {
		t.Fatalf("history not decoded: %#v", out["history"])
	}
	// title is not a structured column and must stay raw text
	if out["title"] != "[not a tag field]" {
		t.Fatalf("title modified: %#v", out["title"])
	}
}

func TestDecodeLeavesPlainTextAlone(t *testing.T) {
	projects := entity(t, schema.KindProject)
	rec := map[string]any{"tags": "just a sentence"}
	out := codec.Decode(projects, rec)
	if out["tags"] != "just a sentence" {
		t.Fatalf("plain text mangled: %#v", out["tags"])
	}
}

func TestDecodeFallbacks(t *testing.T) {
	// Broken bracket text: raw passthrough for projects, empty list for tickets.
	broken := `["unterminated`
	projects := entity(t, schema.KindProject)
	out := codec.Decode(projects, map[string]any{"tags": broken})
	if out["tags"] != broken {
		t.Fatalf("raw fallback lost: %#v", out["tags"])
	}
	tickets := entity(t, schema.KindTicket)
	out = codec.Decode(tickets, map[string]any{"tags": broken})
	got, ok := out["tags"].([]any)
	if !ok || len(got) != 0 {
		t.Fatalf("expected empty list fallback, got %#v", out["tags"])
	}
}

func TestEncodeContainersOnly(t *testing.T) {
	tickets := entity(t, schema.KindTicket)
	rec := map[string]any{
		"tags":    []string{"a", "b"},
		"history": `[{"event":"created"}]`, // already text, must pass through
		"title":   "hello",
	}
	out, err := codec.Encode(tickets, rec)
	if err != nil {
		t.Fatal(err)
	}
	if out["tags"] != `["a","b"]` {
		t.Fatalf("tags not encoded: %#v", out["tags"])
	}
	if out["history"] != `[{"event":"created"}]` {
		t.Fatalf("text re-encoded: %#v", out["history"])
	}
	if out["title"] != "hello" {
		t.Fatalf("unrelated column touched: %#v", out["title"])
	}
}

func TestDecodeListFallbacks(t *testing.T) {
	tickets := entity(t, schema.KindTicket)
	if got := codec.DecodeList(tickets, ""); !reflect.DeepEqual(got, []string{}) {
		t.Fatalf("empty text: %#v", got)
	}
	if got := codec.DecodeList(tickets, "garbage"); !reflect.DeepEqual(got, []string{}) {
		t.Fatalf("garbage text: %#v", got)
	}
	if got := codec.DecodeList(tickets, `["x"]`); !reflect.DeepEqual(got, []string{"x"}) {
		t.Fatalf("valid list: %#v", got)
	}
	projects := entity(t, schema.KindProject)
	if got := codec.DecodeList(projects, "garbage"); got != nil {
		t.Fatalf("raw fallback should yield nil: %#v", got)
	}
}

func TestDecodeObjectList(t *testing.T) {
	tickets := entity(t, schema.KindTicket)
	got := codec.DecodeObjectList(tickets, `[{"event":"created","by":"u1"}]`)
	if len(got) != 1 || got[0]["event"] != "created" {
		t.Fatalf("object list: %#v", got)
	}
	if got := codec.DecodeObjectList(tickets, "{broken"); len(got) != 0 {
		t.Fatalf("expected empty fallback: %#v", got)
	}
}
