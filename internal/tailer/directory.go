package tailer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"zbxrtx/internal/hub"
	"zbxrtx/internal/logging"
	"zbxrtx/internal/notify"
)

// defaultIncludePatterns are the regexps a basename must match at least one
// of to be tailed (spec §4.2). Problems/history files with or without a
// worker-pool suffix are both included; family classification is a separate
// step performed by deriveFamily.
var defaultIncludePatterns = []string{
	`^(problems|history)-.*\.ndjson$`,
	`^(problems|history)-.*-(main-process|task-manager)-\d+\.ndjson$`,
}

// defaultExcludePatterns are doublestar glob patterns matched against the
// basename; a match excludes the file regardless of include matches.
var defaultExcludePatterns = []string{
	"*.old",
	"*.ndjson.old",
}

// DirectoryOptions configures a DirectoryTailer.
type DirectoryOptions struct {
	// Include overrides defaultIncludePatterns when non-nil.
	Include []string
	// Exclude overrides defaultExcludePatterns when non-nil.
	Exclude []string

	// PollInterval and MaxBackoff are forwarded to each child FileTailer.
	PollInterval time.Duration
	MaxBackoff   time.Duration

	// RescanDebounce bounds how often a burst of fsnotify events triggers a
	// rescan; defaults to 150ms (spec §4.2).
	RescanDebounce time.Duration

	Logger *slog.Logger

	// OnEvent receives every Event from every child FileTailer, annotated
	// with Family. Required.
	OnEvent Sink
}

// DirectoryTailer watches a directory for files matching the include/exclude
// patterns, owns one FileTailer per matched file, and classifies each
// forwarded record by family (spec §4.2).
type DirectoryTailer struct {
	dir  string
	opts DirectoryOptions

	include []*regexp.Regexp
	exclude []string

	logger *slog.Logger

	rescan *notify.Signal

	mu       sync.Mutex
	children map[string]*FileTailer
	families map[string]hub.Family

	watcher *fsnotify.Watcher

	stopCh chan struct{}
	doneCh chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

// NewDirectory creates a DirectoryTailer over dir. Call Start to begin
// scanning and watching.
func NewDirectory(dir string, opts DirectoryOptions) *DirectoryTailer {
	if opts.RescanDebounce <= 0 {
		opts.RescanDebounce = 150 * time.Millisecond
	}
	if opts.OnEvent == nil {
		opts.OnEvent = func(Event) {}
	}

	includeSrc := opts.Include
	if includeSrc == nil {
		includeSrc = defaultIncludePatterns
	}
	excludeSrc := opts.Exclude
	if excludeSrc == nil {
		excludeSrc = defaultExcludePatterns
	}

	include := make([]*regexp.Regexp, 0, len(includeSrc))
	for _, p := range includeSrc {
		include = append(include, regexp.MustCompile(p))
	}

	return &DirectoryTailer{
		dir:      dir,
		opts:     opts,
		include:  include,
		exclude:  excludeSrc,
		logger:   logging.Default(opts.Logger).With("component", "tailer", "type", "directory", "dir", dir),
		rescan:   notify.NewSignal(),
		children: make(map[string]*FileTailer),
		families: make(map[string]hub.Family),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start performs an initial scan, launches the filesystem watcher and begins
// the debounced rescan loop. Idempotent.
func (dt *DirectoryTailer) Start(ctx context.Context) error {
	var startErr error
	dt.startOnce.Do(func() {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			startErr = fmt.Errorf("directory tailer: new watcher: %w", err)
			return
		}
		if err := w.Add(dt.dir); err != nil {
			_ = w.Close()
			startErr = fmt.Errorf("directory tailer: watch %s: %w", dt.dir, err)
			return
		}
		dt.watcher = w
		dt.started = true

		dt.scan(ctx)

		go dt.watchLoop()
		go dt.run(ctx)
	})
	return startErr
}

// Stop requests all child tailers to stop, bounding each one to a 2s
// timeout so a single stuck file cannot block shutdown indefinitely (spec
// §4.2, §5). Stragglers are logged and abandoned.
func (dt *DirectoryTailer) Stop() {
	dt.stopOnce.Do(func() {
		close(dt.stopCh)
	})
	if dt.started {
		<-dt.doneCh
	}

	if dt.watcher != nil {
		_ = dt.watcher.Close()
	}

	dt.mu.Lock()
	children := make(map[string]*FileTailer, len(dt.children))
	for path, ft := range dt.children {
		children[path] = ft
	}
	dt.mu.Unlock()

	g, _ := errgroup.WithContext(context.Background())
	for path, ft := range children {
		path, ft := path, ft
		g.Go(func() error {
			done := make(chan struct{})
			go func() {
				ft.Stop()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-time.After(2 * time.Second):
				dt.logger.Warn("child tailer did not stop within timeout", "path", path)
				return nil
			}
		})
	}
	_ = g.Wait()
}

func (dt *DirectoryTailer) run(ctx context.Context) {
	defer close(dt.doneCh)

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	rescanCh := dt.rescan.C()
	for {
		select {
		case <-ctx.Done():
			return
		case <-dt.stopCh:
			return
		case <-rescanCh:
			rescanCh = dt.rescan.C()
			debounce.Reset(dt.opts.RescanDebounce)
		case <-debounce.C:
			dt.scan(ctx)
		}
	}
}

func (dt *DirectoryTailer) watchLoop() {
	for {
		select {
		case ev, ok := <-dt.watcher.Events:
			if !ok {
				return
			}
			dt.rescan.Notify()
			dt.mu.Lock()
			ft := dt.children[filepath.Base(ev.Name)]
			dt.mu.Unlock()
			if ft != nil {
				ft.Poke()
			}
		case err, ok := <-dt.watcher.Errors:
			if !ok {
				return
			}
			dt.logger.Warn("watcher error", "error", err)
		}
	}
}

// scan lists the directory, starts a FileTailer for every newly matched
// file, and stops tailers for files that disappeared. It is single-flighted
// by always running on dt.run's goroutine.
func (dt *DirectoryTailer) scan(ctx context.Context) {
	entries, err := os.ReadDir(dt.dir)
	if err != nil {
		dt.logger.Warn("readdir failed", "error", err)
		return
	}

	matched := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !dt.included(name) || dt.excluded(name) {
			continue
		}
		matched[name] = struct{}{}

		dt.mu.Lock()
		_, exists := dt.children[name]
		dt.mu.Unlock()
		if exists {
			continue
		}

		dt.startChild(ctx, name)
	}

	dt.mu.Lock()
	var gone []string
	for name := range dt.children {
		if _, ok := matched[name]; !ok {
			gone = append(gone, name)
		}
	}
	dt.mu.Unlock()

	for _, name := range gone {
		dt.stopChild(name)
	}
}

func (dt *DirectoryTailer) startChild(ctx context.Context, name string) {
	family := deriveFamily(name)
	path := filepath.Join(dt.dir, name)

	ft := NewFile(path, FileOptions{
		Interval:   dt.opts.PollInterval,
		MaxBackoff: dt.opts.MaxBackoff,
		Logger:     dt.logger,
		OnEvent: func(e Event) {
			e.Family = family
			dt.opts.OnEvent(e)
		},
	})

	dt.mu.Lock()
	dt.children[name] = ft
	dt.families[name] = family
	dt.mu.Unlock()

	ft.Start(ctx)
	dt.logger.Info("tailing new file", "path", path, "family", string(family))
}

func (dt *DirectoryTailer) stopChild(name string) {
	dt.mu.Lock()
	ft, ok := dt.children[name]
	if ok {
		delete(dt.children, name)
		delete(dt.families, name)
	}
	dt.mu.Unlock()
	if !ok {
		return
	}
	dt.logger.Info("file disappeared, stopping tailer", "name", name)
	ft.Stop()
}

func (dt *DirectoryTailer) included(name string) bool {
	for _, re := range dt.include {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func (dt *DirectoryTailer) excluded(name string) bool {
	for _, pat := range dt.exclude {
		if ok, err := doublestar.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}
