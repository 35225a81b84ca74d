package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/vk/samplegrid/internal/ctxlog"
	"github.com/vk/samplegrid/internal/pipeline"
)

// Publisher copies successful terminal-stage outputs into a stable,
// human-navigable tree organized by pipeline phase. The published tree is
// distinct from the cache store: it is for people and downstream tools, not
// for resumption.
type Publisher struct {
	outDir string
}

// NewPublisher creates a publisher rooted at outDir.
func NewPublisher(outDir string) *Publisher {
	return &Publisher{outDir: outDir}
}

// Publish copies every file of every item into {outDir}/{phase}/{scope}/.
// Per-sample stages pass their instance key as scope so outputs with shared
// names, such as a QC report directory produced once per sample, land in
// distinct subtrees; collect stages pass an empty scope and publish flat.
// Copies run in parallel; the first failure cancels the rest.
func (p *Publisher) Publish(ctx context.Context, phase, scope string, items []pipeline.Item) error {
	if len(items) == 0 {
		return nil
	}
	destDir := filepath.Join(p.outDir, phase, scope)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating output tree: %w", err)
	}

	g, _ := errgroup.WithContext(ctx)
	for _, item := range items {
		for _, src := range item.Files {
			src := src
			dst := filepath.Join(destDir, filepath.Base(src))
			g.Go(func() error {
				if err := copyPath(src, dst); err != nil {
					return fmt.Errorf("publishing %s: %w", src, err)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ctxlog.FromContext(ctx).Debug("Artifacts published.", "phase", phase, "scope", scope, "items", len(items))
	return nil
}
