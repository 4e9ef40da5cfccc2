// Package toolcall implements the Tool-Call Handler (C7): accepts
// tool calls in either the OpenAI dialect (response.choices[].message
// .tool_calls[]) or the Claude-native dialect (response.content[]
// with type "tool_use"), resolves each by name against the skill
// registry, and invokes the Execution Service sequentially in
// document order.
//
// Grounded in agent-warden's internal/adapter/openclaw/translator.go:
// the per-field extraction helper (strVal) and the
// "accept whatever shape the upstream dialect sends, never panic on a
// missing field" posture carry over directly, adapted from OpenClaw's
// single ad-hoc event shape to these two well-defined LLM tool-call
// dialects.
package toolcall

import (
	"encoding/json"
	"fmt"

	"github.com/skillbox/skillbox/internal/execsvc"
	"github.com/skillbox/skillbox/internal/manifest"
)

// Dialect names the tool-call wire format a response came in.
type Dialect int

const (
	DialectOpenAI Dialect = iota
	DialectClaude
)

// Call is one tool invocation extracted from either dialect.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]any
	Dialect   Dialect
}

// Resolver looks a skill up by name; the registry lives outside this
// package (C1 callers own directory scanning).
type Resolver func(name string) (manifest.Skill, bool)

// Handler is the Tool-Call Handler.
type Handler struct {
	resolve Resolver
	service *execsvc.Service
	ctx     execsvc.Context
	confirm execsvcCallback
}

type execsvcCallback = func(formattedReport, scanID string) bool

// NewHandler builds a Handler. confirm may be nil when no interactive
// confirmation channel exists (scans requiring confirmation then fail
// closed as ScanBlocked).
func NewHandler(resolve Resolver, service *execsvc.Service, ctx execsvc.Context, confirm execsvcCallback) *Handler {
	return &Handler{resolve: resolve, service: service, ctx: ctx, confirm: confirm}
}

// Result is one tool call's outcome, pre-formatted for both dialects
// so callers need not branch again.
type Result struct {
	ID            string
	Name          string
	IsError       bool
	OpenAIContent string // Dialect A: serialized JSON string
	ClaudeBlock   map[string]any
}

// HandleOpenAI parses Dialect A's tool_calls[] array and executes each
// sequentially, in array order.
func (h *Handler) HandleOpenAI(toolCalls []map[string]any) []Result {
	calls := make([]Call, 0, len(toolCalls))
	for _, tc := range toolCalls {
		calls = append(calls, parseOpenAICall(tc))
	}
	return h.run(calls)
}

// HandleClaude parses Dialect B's content[] array, executing only the
// tool_use entries, in document order.
func (h *Handler) HandleClaude(content []map[string]any) []Result {
	var calls []Call
	for _, block := range content {
		if strVal(block, "type") != "tool_use" {
			continue
		}
		input, _ := block["input"].(map[string]any)
		calls = append(calls, Call{
			ID:        strVal(block, "id"),
			Name:      strVal(block, "name"),
			Arguments: input,
			Dialect:   DialectClaude,
		})
	}
	return h.run(calls)
}

func parseOpenAICall(tc map[string]any) Call {
	id := strVal(tc, "id")
	fn, _ := tc["function"].(map[string]any)
	name := strVal(fn, "name")

	var args map[string]any
	if raw, ok := fn["arguments"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			// Unknown/malformed arguments pass through as a raw field
			// rather than rejecting the call outright — the skill's
			// input schema is soft.
			args = map[string]any{"raw": raw}
		}
	}
	return Call{ID: id, Name: name, Arguments: args, Dialect: DialectOpenAI}
}

// run executes calls sequentially in document order, preserving any
// causal ordering the model expressed — these are never parallelized.
func (h *Handler) run(calls []Call) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		results = append(results, h.invoke(call))
	}
	return results
}

func (h *Handler) invoke(call Call) Result {
	skill, ok := h.resolve(call.Name)
	if !ok {
		return errorResult(call, fmt.Sprintf("unknown skill %q", call.Name))
	}

	execResult := h.service.Execute(skill, call.Arguments, h.ctx, h.confirm, call.ID)
	if !execResult.Success {
		msg := execResult.ErrorMessage
		if msg == "" {
			msg = string(execResult.ErrorKind)
		}
		return errorResult(call, msg)
	}

	return successResult(call, execResult.Output)
}

func successResult(call Call, output any) Result {
	payload, err := json.Marshal(output)
	if err != nil {
		payload, _ = json.Marshal(map[string]any{"raw": fmt.Sprintf("%v", output)})
	}
	return Result{
		ID:            call.ID,
		Name:          call.Name,
		IsError:       false,
		OpenAIContent: string(payload),
		ClaudeBlock: map[string]any{
			"type":        "tool_result",
			"tool_use_id": call.ID,
			"content":     string(payload),
		},
	}
}

func errorResult(call Call, message string) Result {
	payload, _ := json.Marshal(map[string]any{"error": message})
	return Result{
		ID:            call.ID,
		Name:          call.Name,
		IsError:       true,
		OpenAIContent: string(payload),
		ClaudeBlock: map[string]any{
			"type":        "tool_result",
			"tool_use_id": call.ID,
			"content":     string(payload),
			"is_error":    true,
		},
	}
}

func strVal(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
