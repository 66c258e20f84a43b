package scraper

import (
	"context"

	"github.com/Sternrassler/github-scraper/pkg/cache"
	"github.com/Sternrassler/github-scraper/pkg/github"
)

// Cache operation names.
const (
	opComplete = "complete"
	opProfile  = "profile"
	opRepos    = "repos"
)

// RunCached is Run memoised in the orchestrator's cache. cached reports a hit.
// Failed and partial scrapes are not stored.
func (o *Orchestrator) RunCached(ctx context.Context, username string, opts Options) (res *Result, cached bool, err error) {
	opts, err = o.normalize(opts)
	if err != nil {
		return nil, false, err
	}
	key := cache.Key{Operation: opComplete, Subject: username, Params: opts.cacheParams()}.String()
	if o.cache != nil {
		if v, ok := cache.Lookup[*Result](o.cache, key); ok {
			return v, true, nil
		}
	}

	res, err = o.Run(ctx, username, opts)
	if err != nil {
		return nil, false, err
	}
	if o.cache != nil && !res.Partial {
		o.cache.Set(key, res)
	}
	return res, false, nil
}

// ProfileCached is Profile memoised in the orchestrator's cache.
func (o *Orchestrator) ProfileCached(ctx context.Context, username string) (*github.Profile, bool, error) {
	key := cache.Key{Operation: opProfile, Subject: username}.String()
	if o.cache != nil {
		if v, ok := cache.Lookup[*github.Profile](o.cache, key); ok {
			return v, true, nil
		}
	}

	p, err := o.Profile(ctx, username)
	if err != nil {
		return nil, false, err
	}
	if o.cache != nil {
		o.cache.Set(key, p)
	}
	return p, false, nil
}

// RepositoriesCached is Repositories memoised in the orchestrator's cache.
// Failed and partial listings are not stored.
func (o *Orchestrator) RepositoriesCached(ctx context.Context, username string, opts Options) ([]github.Repository, bool, error) {
	opts, err := o.normalize(opts)
	if err != nil {
		return nil, false, err
	}
	key := cache.Key{Operation: opRepos, Subject: username, Params: opts.cacheParams()}.String()
	if o.cache != nil {
		if v, ok := cache.Lookup[[]github.Repository](o.cache, key); ok {
			return v, true, nil
		}
	}

	repos, partial, err := o.repositories(ctx, username, opts)
	if err != nil {
		return nil, false, err
	}
	if o.cache != nil && !partial {
		o.cache.Set(key, repos)
	}
	return repos, false, nil
}
