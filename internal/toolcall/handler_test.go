package toolcall

import (
	"encoding/json"
	"testing"

	"github.com/skillbox/skillbox/internal/execsvc"
	"github.com/skillbox/skillbox/internal/manifest"
)

func TestParseOpenAICall_ParsesJSONArguments(t *testing.T) {
	call := parseOpenAICall(map[string]any{
		"id": "call-1",
		"function": map[string]any{
			"name":      "hello-world",
			"arguments": `{"name":"World"}`,
		},
	})
	if call.Name != "hello-world" || call.ID != "call-1" {
		t.Fatalf("call = %+v", call)
	}
	if call.Arguments["name"] != "World" {
		t.Fatalf("arguments = %+v", call.Arguments)
	}
}

func TestParseOpenAICall_MalformedArgumentsPassThroughAsRaw(t *testing.T) {
	call := parseOpenAICall(map[string]any{
		"function": map[string]any{"name": "x", "arguments": "not-json"},
	})
	if call.Arguments["raw"] != "not-json" {
		t.Fatalf("expected raw passthrough, got %+v", call.Arguments)
	}
}

func TestHandleClaude_SkipsNonToolUseBlocks(t *testing.T) {
	h := NewHandler(func(string) (manifest.Skill, bool) { return manifest.Skill{}, false }, nil, execsvc.Context{}, nil)
	results := h.HandleClaude([]map[string]any{
		{"type": "text", "text": "hello"},
		{"type": "tool_use", "id": "t1", "name": "missing-skill", "input": map[string]any{}},
	})
	if len(results) != 1 {
		t.Fatalf("expected exactly one tool_use result, got %d", len(results))
	}
	if !results[0].IsError {
		t.Fatalf("expected error result for an unresolvable skill")
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(results[0].OpenAIContent), &body); err != nil {
		t.Fatalf("invalid JSON error body: %v", err)
	}
	if body["error"] == nil {
		t.Fatalf("expected an error field")
	}
}

func TestHandleOpenAI_UnknownSkillProducesErrorResult(t *testing.T) {
	h := NewHandler(func(string) (manifest.Skill, bool) { return manifest.Skill{}, false }, nil, execsvc.Context{}, nil)
	results := h.HandleOpenAI([]map[string]any{
		{"id": "c1", "function": map[string]any{"name": "nope", "arguments": "{}"}},
	})
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("results = %+v", results)
	}
}
