package model

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"github.com/xiaozhch5/openclaw/pkg/agentsession"
)

// Resolution errors are fatal for a run before any session resources exist.
var (
	ErrUnknownProvider = errors.New("unknown model provider")
	ErrNoCredentials   = errors.New("no credentials found for provider")
)

// AuthProfile represents authentication credentials for a model provider
type AuthProfile struct {
	ID       string `json:"id"`
	Provider string `json:"provider"` // "anthropic", "openai"
	APIKey   string `json:"api_key"`
	Priority int    `json:"priority"`
}

// Resolved is a usable model handle: a completion backend bound to a
// provider, model id, and credentials.
type Resolved struct {
	Provider  string
	Model     string
	ProfileID string
	Completer agentsession.Completer
}

// Resolver turns (provider, model) pairs into usable model handles
type Resolver struct {
	profiles []AuthProfile
	logger   zerolog.Logger
}

// NewResolver creates a resolver over the given auth profiles
func NewResolver(profiles []AuthProfile, logger zerolog.Logger) *Resolver {
	sorted := make([]AuthProfile, len(profiles))
	copy(sorted, profiles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	return &Resolver{
		profiles: sorted,
		logger:   logger,
	}
}

// Resolve returns a model handle for the provider/model pair, or an error
// when the provider is unknown or no API key can be found.
func (r *Resolver) Resolve(provider, modelID string) (*Resolved, error) {
	switch provider {
	case "anthropic", "openai":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	profile, err := r.findProfile(provider)
	if err != nil {
		return nil, err
	}

	var completer agentsession.Completer
	switch provider {
	case "anthropic":
		completer = NewAnthropicCompleter(profile.APIKey, modelID)
	case "openai":
		completer = NewOpenAICompleter(profile.APIKey, modelID)
	}

	r.logger.Debug().
		Str("provider", provider).
		Str("model", modelID).
		Str("profileId", profile.ID).
		Msg("Model resolved")

	return &Resolved{
		Provider:  provider,
		Model:     modelID,
		ProfileID: profile.ID,
		Completer: completer,
	}, nil
}

// findProfile picks the highest-priority profile with a usable key,
// falling back to the provider's conventional environment variable.
func (r *Resolver) findProfile(provider string) (AuthProfile, error) {
	for _, p := range r.profiles {
		if p.Provider == provider && p.APIKey != "" {
			return p, nil
		}
	}

	envVar := ""
	switch provider {
	case "anthropic":
		envVar = "ANTHROPIC_API_KEY"
	case "openai":
		envVar = "OPENAI_API_KEY"
	}

	if key := os.Getenv(envVar); key != "" {
		return AuthProfile{
			ID:       "env:" + envVar,
			Provider: provider,
			APIKey:   key,
		}, nil
	}

	return AuthProfile{}, fmt.Errorf("%w: %s", ErrNoCredentials, provider)
}
