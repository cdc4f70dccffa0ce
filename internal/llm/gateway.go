// Package llm defines the completion contract the chat flow depends on.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/router-for-me/ChatBilling/internal/models"
)

// Provider failure classes.
var (
	ErrProviderUnavailable = errors.New("llm provider unavailable")
	ErrProviderTimeout     = errors.New("llm provider timeout")
	ErrProviderError       = errors.New("llm provider error")
)

// Message is one entry of the prompt history.
type Message struct {
	Role    models.MessageRole `json:"role"`
	Content string             `json:"content"`
}

// Request is an ordered history, oldest first, sent to one model.
type Request struct {
	Model    string
	Messages []Message
}

// Completion is the provider reply with its token usage.
type Completion struct {
	Text             string
	PromptTokens     int64
	CompletionTokens int64
}

// Gateway sends a history to a completion provider.
type Gateway interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req Request) (Completion, error)

// Complete calls f.
func (f GatewayFunc) Complete(ctx context.Context, req Request) (Completion, error) {
	return f(ctx, req)
}

// Classify wraps err with the provider failure class it belongs to.
// Context deadline errors become timeouts; unclassified errors become
// provider errors.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrProviderUnavailable), errors.Is(err, ErrProviderTimeout), errors.Is(err, ErrProviderError):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrProviderError, err)
	}
}

// Router sends each request to exactly one backend, chosen by the longest
// matching model-name prefix, falling back to a default backend.
type Router struct {
	routes   []route
	fallback Gateway
}

type route struct {
	prefix  string
	gateway Gateway
}

// NewRouter constructs a Router with a fallback backend (may be nil).
func NewRouter(fallback Gateway) *Router {
	return &Router{fallback: fallback}
}

// Register binds model names starting with prefix to gateway.
func (r *Router) Register(prefix string, gateway Gateway) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if gateway == nil {
		return
	}
	r.routes = append(r.routes, route{prefix: prefix, gateway: gateway})
	sort.SliceStable(r.routes, func(i, j int) bool {
		return len(r.routes[i].prefix) > len(r.routes[j].prefix)
	})
}

// Complete forwards req to the selected backend.
func (r *Router) Complete(ctx context.Context, req Request) (Completion, error) {
	gateway := r.resolve(req.Model)
	if gateway == nil {
		return Completion{}, fmt.Errorf("%w: no backend for model %q", ErrProviderUnavailable, req.Model)
	}
	completion, err := gateway.Complete(ctx, req)
	if err != nil {
		return Completion{}, Classify(err)
	}
	return completion, nil
}

func (r *Router) resolve(model string) Gateway {
	if r == nil {
		return nil
	}
	name := strings.ToLower(strings.TrimSpace(model))
	for _, rt := range r.routes {
		if rt.prefix != "" && strings.HasPrefix(name, rt.prefix) {
			return rt.gateway
		}
	}
	return r.fallback
}
