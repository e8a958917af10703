package podcast

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 750 * time.Millisecond

// Update carries the full, freshly scanned episode list of one feed.
type Update struct {
	Feed     string
	Episodes []Episode
}

// Watcher rescans feeds when their directories change.
type Watcher struct {
	root     string
	feeds    []string
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher for the given feeds under root.
func NewWatcher(root string, feeds []string, logger *slog.Logger) *Watcher {
	return &Watcher{root: root, feeds: feeds, logger: logger, debounce: defaultDebounce}
}

// Run sends one Update per feed immediately, then another whenever files in a
// feed directory change (coalesced over the debounce window). It returns when
// ctx is canceled.
func (w *Watcher) Run(ctx context.Context, out chan<- Update) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	known := make(map[string]bool, len(w.feeds))
	for _, feed := range w.feeds {
		known[feed] = true
		dir := filepath.Join(w.root, feed)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			w.logger.Warn("create feed directory failed", "feed", feed, "error", err)
			continue
		}
		if err := fw.Add(dir); err != nil {
			w.logger.Warn("watch feed failed", "feed", feed, "error", err)
		}
	}

	for feed, eps := range Scan(w.root, w.feeds, w.logger) {
		if !w.send(ctx, out, Update{Feed: feed, Episodes: eps}) {
			return nil
		}
	}

	dirty := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			feed := w.feedOf(ev.Name)
			if feed == "" || !known[feed] {
				continue
			}
			if !dirty[feed] {
				w.logger.Debug("feed changed", "feed", feed, "path", ev.Name, "op", ev.Op.String())
			}
			dirty[feed] = true
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("feed watcher error", "error", err)

		case <-timer.C:
			for feed := range dirty {
				eps, err := ScanFeed(w.root, feed)
				if err != nil {
					w.logger.Warn("rescan feed failed", "feed", feed, "error", err)
					continue
				}
				logFeed(w.logger, feed, eps)
				if !w.send(ctx, out, Update{Feed: feed, Episodes: eps}) {
					return nil
				}
			}
			clear(dirty)
		}
	}
}

func (w *Watcher) send(ctx context.Context, out chan<- Update, u Update) bool {
	select {
	case out <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

// feedOf maps a changed path to its feed slug.
func (w *Watcher) feedOf(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	feed, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return feed
}
