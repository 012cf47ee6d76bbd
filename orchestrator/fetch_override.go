package orchestrator

import (
	"context"

	"github.com/evrenesat/asky/adapters"
	"github.com/evrenesat/asky/hookkernel"
)

// HookedFetcher fires FETCH_URL_OVERRIDE before delegating to the base
// Fetcher; the first subscriber to set a result wins and the base is never
// called for that URL.
type HookedFetcher struct {
	Kernel *hookkernel.Kernel
	Base   adapters.Fetcher
}

func (h HookedFetcher) Fetch(ctx context.Context, url string, opts adapters.FetchOptions) (adapters.FetchResult, error) {
	payload := &hookkernel.FetchURLOverridePayload{URL: url}
	if h.Kernel != nil {
		h.Kernel.Fanout(ctx, hookkernel.FetchURLOverride, payload)
	}
	if payload.Result != nil {
		r := payload.Result
		return adapters.FetchResult{
			RequestedURL: r.RequestedURL,
			FinalURL:     r.FinalURL,
			ContentText:  r.ContentText,
			Title:        r.Title,
			Links:        r.Links,
			SourceID:     r.SourceID,
		}, nil
	}
	return h.Base.Fetch(ctx, url, opts)
}
