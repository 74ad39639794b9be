package llm

import (
	"context"
	"time"
)

// FakeClient is a scripted Client used by graph unit tests, grounded on
// the teacher's interface-backed test doubles (no LLM call in tests ever
// hits the network in the teacher pack either).
type FakeClient struct {
	// Responses is consumed in order, one per Complete call. If exhausted,
	// the last entry is reused.
	Responses []string
	Err       error

	Calls []FakeCall
}

// FakeCall records one Complete invocation for assertions.
type FakeCall struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
}

func (f *FakeClient) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, timeout time.Duration) (string, error) {
	f.Calls = append(f.Calls, FakeCall{SystemPrompt: systemPrompt, UserPrompt: userPrompt, Temperature: temperature})
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Responses) == 0 {
		return "", nil
	}
	idx := len(f.Calls) - 1
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	}
	return f.Responses[idx], nil
}
