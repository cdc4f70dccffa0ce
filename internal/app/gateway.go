package app

import (
	"fmt"

	"github.com/router-for-me/ChatBilling/internal/config"
	"github.com/router-for-me/ChatBilling/internal/llm"
	"github.com/router-for-me/ChatBilling/internal/llm/loopback"
	"github.com/router-for-me/ChatBilling/internal/llm/openai"
	log "github.com/sirupsen/logrus"
)

// BuildGateway turns the configured providers into a prefix router. The
// default provider serves models no prefix claims.
func BuildGateway(cfg config.LLMConfig) (*llm.Router, error) {
	backends := make(map[string]llm.Gateway, len(cfg.Providers))
	for _, provider := range cfg.Providers {
		if _, dup := backends[provider.Name]; dup {
			return nil, fmt.Errorf("llm provider %q configured twice", provider.Name)
		}
		var backend llm.Gateway
		switch provider.Type {
		case config.ProviderTypeOpenAI:
			adapter, errNew := openai.New(openai.Config{
				APIKey:         provider.APIKey,
				BaseURL:        provider.BaseURL,
				Organization:   provider.Organization,
				RequestTimeout: provider.RequestTimeout,
				ModelOverride:  provider.ModelOverride,
			})
			if errNew != nil {
				return nil, fmt.Errorf("llm provider %q: %w", provider.Name, errNew)
			}
			backend = adapter
		case config.ProviderTypeLoopback:
			backend = loopback.New()
		default:
			return nil, fmt.Errorf("llm provider %q: unknown type %q", provider.Name, provider.Type)
		}
		backends[provider.Name] = backend
	}

	fallback, ok := backends[cfg.Default]
	if !ok {
		return nil, fmt.Errorf("default llm provider %q is not configured", cfg.Default)
	}
	router := llm.NewRouter(fallback)
	for _, provider := range cfg.Providers {
		for _, prefix := range provider.ModelPrefixes {
			router.Register(prefix, backends[provider.Name])
		}
		log.WithFields(log.Fields{
			"provider": provider.Name,
			"type":     provider.Type,
			"prefixes": provider.ModelPrefixes,
			"default":  provider.Name == cfg.Default,
		}).Info("llm provider registered")
	}
	return router, nil
}
