package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/spachava753/templatesync/internal/hosting"
	"github.com/spachava753/templatesync/internal/registry"
)

// scanParallelism bounds concurrent code-search queries.
const scanParallelism = 4

// Scan searches the host for repositories linked to any template the
// registry uses and returns the slugs the registry does not track. The
// result is advisory; nothing is added to the registry.
func Scan(ctx context.Context, reg *registry.Registry, host hosting.Client) ([]string, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(scanParallelism)

	var mu sync.Mutex
	found := make(map[string]bool)

	for _, tmpl := range reg.Templates() {
		g.Go(func() error {
			slugs, err := host.SearchTemplateConsumers(ctx, tmpl)
			if err != nil {
				return fmt.Errorf("searching consumers of %s: %w", tmpl, err)
			}
			slog.Debug("template consumers", "template", tmpl, "found", len(slugs))

			mu.Lock()
			defer mu.Unlock()
			for _, s := range slugs {
				if !reg.HasHostSlug(s) {
					found[strings.ToLower(s)] = true
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	untracked := make([]string, 0, len(found))
	for s := range found {
		untracked = append(untracked, s)
	}
	sort.Strings(untracked)
	return untracked, nil
}
