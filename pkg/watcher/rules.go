package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/logger"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/rules"
)

// RulesWatcher reloads the rule catalog when its file changes on disk. A bad
// edit is rejected in full and the previous snapshot stays active, so a typo
// cannot take the pipeline down.
type RulesWatcher struct {
	path     string
	catalog  *rules.Catalog
	debounce time.Duration
}

func NewRulesWatcher(path string, catalog *rules.Catalog, debounce time.Duration) *RulesWatcher {
	if debounce <= 0 {
		debounce = time.Second
	}
	return &RulesWatcher{path: path, catalog: catalog, debounce: debounce}
}

func (rw *RulesWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory: editors replace the file, which drops a watch on
	// the file itself.
	if err := fw.Add(filepath.Dir(rw.path)); err != nil {
		return fmt.Errorf("watch rules dir: %w", err)
	}
	logger.Log.WithField("path", rw.path).Info("Rules watcher started")

	var timer *time.Timer
	target := filepath.Clean(rw.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Reset(rw.debounce)
				continue
			}
			timer = time.AfterFunc(rw.debounce, func() {
				rw.reload()
			})
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Log.WithError(err).Warn("Rules watcher error")
		}
	}
}

func (rw *RulesWatcher) reload() {
	snap, err := rw.catalog.Reload()
	if err != nil {
		logger.Log.WithError(err).Error("Rule reload rejected, keeping previous rules")
		return
	}
	logger.Log.WithField("version", snap.Version).
		WithField("loaded", snap.Report.Loaded).
		WithField("rejected", len(snap.Report.Rejected)).
		Info("Rules reloaded")
}
