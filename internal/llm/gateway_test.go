package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func stubGateway(name string) Gateway {
	return GatewayFunc(func(ctx context.Context, req Request) (Completion, error) {
		return Completion{Text: name}, nil
	})
}

func TestRouter_LongestPrefixWins(t *testing.T) {
	router := NewRouter(stubGateway("default"))
	router.Register("gpt", stubGateway("openai"))
	router.Register("gpt-4o-mini", stubGateway("mini"))
	router.Register("Doubao", stubGateway("doubao"))

	cases := map[string]string{
		"gpt-4-turbo": "openai",
		"gpt-4o-mini": "mini",
		"doubao-pro":  "doubao",
		"gemini":      "default",
	}
	for model, want := range cases {
		got, err := router.Complete(context.Background(), Request{Model: model})
		if err != nil {
			t.Fatalf("complete %s: %v", model, err)
		}
		if got.Text != want {
			t.Fatalf("model %s routed to %q, want %q", model, got.Text, want)
		}
	}
}

func TestRouter_NoBackend(t *testing.T) {
	router := NewRouter(nil)
	if _, err := router.Complete(context.Background(), Request{Model: "x"}); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	if !errors.Is(Classify(context.DeadlineExceeded), ErrProviderTimeout) {
		t.Fatalf("expected deadline to classify as timeout")
	}
	if !errors.Is(Classify(errors.New("boom")), ErrProviderError) {
		t.Fatalf("expected unknown errors to classify as provider error")
	}
	wrapped := fmt.Errorf("%w: 503", ErrProviderUnavailable)
	if Classify(wrapped) != wrapped {
		t.Fatalf("expected classified errors to pass through")
	}
	if Classify(nil) != nil {
		t.Fatalf("expected nil to stay nil")
	}
}
