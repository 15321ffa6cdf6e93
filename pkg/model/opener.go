package model

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/xiaozhch5/openclaw/pkg/agentsession"
)

// NewCompletionOpener returns a session opener backed by plain completion
// providers. Each open resolves credentials and wraps the completer in a
// CompletionSession seeded with the request's history.
func NewCompletionOpener(resolver *Resolver, logger zerolog.Logger) agentsession.Opener {
	return agentsession.OpenerFunc(func(ctx context.Context, req agentsession.OpenRequest) (agentsession.Session, error) {
		resolved, err := resolver.Resolve(req.Provider, req.Model)
		if err != nil {
			return nil, err
		}

		sess := agentsession.NewCompletionSession(req.SessionID, req.SystemPrompt, resolved.Completer, logger)
		sess.SeedHistory(req.History)
		return sess, nil
	})
}
