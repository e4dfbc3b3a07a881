package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// FakeClient returns deterministic, minimal JSON payloads per role for
// offline runs and smoke tests. The generation role emits a driver that
// satisfies the identifier-list contract; the diagnosis role emits a
// recoverable retry-with-hint verdict.
type FakeClient struct{}

func NewFakeClient() *FakeClient { return &FakeClient{} }

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	var obj any
	switch RoleFrom(ctx) {
	case "generation":
		content := "package driver\n\n" +
			"// Discover returns the identifiers this driver manages.\n" +
			"func Discover() []string {\n" +
			"\treturn []string{\"fake-0\"}\n" +
			"}\n"
		obj = map[string]any{
			"target":  "driver.go",
			"content": content,
		}
	case "diagnosis":
		obj = map[string]any{
			"classification":     "formatting",
			"root_cause":         "fake diagnosis output",
			"recoverable":        true,
			"remedy":             "retry-with-hint",
			"remedy_description": "fake remedy hint",
		}
	default:
		obj = map[string]any{}
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("llm: fake payload: %w", err)
	}
	return json.RawMessage(b), nil
}
