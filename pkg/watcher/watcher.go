package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/analysis"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/logger"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/models"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/workbooks"
)

// StudyResolver maps a data lake folder name to a registered study,
// registering it on first sight.
type StudyResolver interface {
	EnsureByName(ctx context.Context, name string) (*models.Study, error)
}

type WorkbookIntake interface {
	Save(ctx context.Context, studyID, filename string, data []byte) (*workbooks.Workbook, bool, error)
}

// RunStarter kicks off analysis after an intake. ErrRunConflict is expected
// when several files land at once and is not an intake failure.
type RunStarter interface {
	StartRun(ctx context.Context, studyID string) (*analysis.Run, error)
}

// Watcher tails a data lake folder laid out as <root>/<study name>/*.xlsx and
// feeds dropped workbooks into the pipeline. Writes are debounced per file so
// a slow copy triggers one intake, not one per chunk.
type Watcher struct {
	root     string
	debounce time.Duration

	resolver StudyResolver
	intake   WorkbookIntake
	starter  RunStarter

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func New(root string, debounce time.Duration, resolver StudyResolver, intake WorkbookIntake, starter RunStarter) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		resolver: resolver,
		intake:   intake,
		starter:  starter,
		timers:   make(map[string]*time.Timer),
	}
}

// Run watches until the context is cancelled. The root and its existing
// study subfolders are registered up front; folders created later are picked
// up from create events.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("read data lake root: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := fw.Add(filepath.Join(w.root, entry.Name())); err != nil {
				logger.Log.WithError(err).WithField("dir", entry.Name()).Warn("Failed to watch study folder")
			}
		}
	}
	logger.Log.WithField("root", w.root).Info("Data lake watcher started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fw, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Log.WithError(err).Warn("Watcher error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if filepath.Dir(event.Name) == filepath.Clean(w.root) {
			if err := fw.Add(event.Name); err != nil {
				logger.Log.WithError(err).WithField("dir", event.Name).Warn("Failed to watch new study folder")
			}
		}
		return
	}

	if !isWorkbook(event.Name) {
		return
	}
	w.schedule(ctx, event.Name)
}

// schedule resets the file's debounce timer. Intake runs once the file has
// been quiet for the debounce window.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	studyName := filepath.Base(filepath.Dir(path))
	filename := filepath.Base(path)
	log := logger.WithField("file", filename).WithField("study_folder", studyName)

	study, err := w.resolver.EnsureByName(ctx, studyName)
	if err != nil {
		log.WithError(err).Error("Failed to resolve study for dropped workbook")
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).Error("Failed to read dropped workbook")
		return
	}
	_, created, err := w.intake.Save(ctx, study.ID, filename, data)
	if err != nil {
		log.WithError(err).Error("Failed to store dropped workbook")
		return
	}
	log.WithField("created", created).Info("Workbook ingested from data lake")

	if w.starter == nil || !created {
		return
	}
	if _, err := w.starter.StartRun(ctx, study.ID); err != nil {
		if errors.Is(err, analysis.ErrRunConflict) {
			log.Info("Analysis already running, workbook queued for next run")
			return
		}
		log.WithError(err).Error("Failed to start analysis after intake")
	}
}

func isWorkbook(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return false
}
