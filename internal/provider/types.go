// Package provider implements the Provider Adapter (C3): launching an
// external actor CLI with a prompt file, an isolated home directory, an
// activity-reset timeout, and bounded output buffers, then classifying
// failure exit codes. Grounded on fluxforge/agent/executor.go's
// exec.Command/exit-code-extraction pattern, substantially extended per
// §4.3.
package provider

import (
	"context"
	"time"
)

// TokenUsage is the lifecycle metadata an actor's streaming protocol may
// report alongside its final result.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Result is the never-raising outcome of one invocation (§4.3: "MUST NOT
// raise; all failures surface in the Result").
type Result struct {
	Success    bool
	ExitCode   int
	Stdout     string
	Stderr     string
	Duration   time.Duration
	TimedOut   bool
	SessionID  string
	TokenUsage *TokenUsage
}

// ActivityEvent is one line of the actor's streaming JSON-lines protocol,
// forwarded to an invocation's OnActivity callback (§4.3, §9).
type ActivityEvent struct {
	Kind       string // assistant_content, tool_use, content_block_delta, final_result
	Text       string
	SessionID  string
	TokenUsage *TokenUsage
}

// InvokeOptions configures one invocation (§6 Provider Adapter interface).
type InvokeOptions struct {
	Model              string
	Timeout            time.Duration
	Cwd                string
	InvocationTemplate string // placeholders: {cli} {prompt_file} {model} {session_id}
	ResumeSessionID    string
	StreamOutput       bool
	OnActivity         func(ActivityEvent)
}

// ClassificationType enumerates classifyResult's outcomes (§4.3).
type ClassificationType string

const (
	ClassCreditExhaustion ClassificationType = "credit_exhaustion"
	ClassRateLimit        ClassificationType = "rate_limit"
	ClassAuthError        ClassificationType = "auth_error"
	ClassModelNotFound    ClassificationType = "model_not_found"
	ClassOther            ClassificationType = "other"
)

// Classification is classifyResult's typed, nullable outcome.
type Classification struct {
	Type         ClassificationType
	Message      string
	RetryAfterMS *int64
}

// Adapter is the public per-provider contract (§4.3, §6).
type Adapter interface {
	Invoke(ctx context.Context, prompt string, opts InvokeOptions) (*Result, error)
	IsAvailable(ctx context.Context) bool
	ClassifyResult(res *Result) *Classification
	ListModels() []string
	GetDefaultInvocationTemplate() string
}
