// Package podcast reads the episode directories a separate fetch job maintains
// (<root>/<feed>/*.mp3) and keeps the list current as files come and go.
package podcast

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/dustin/go-humanize"
)

var audioExts = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".aac":  true,
	".ogg":  true,
	".opus": true,
	".flac": true,
}

// Episode is one downloaded file.
type Episode struct {
	Feed    string
	Path    string // absolute path on disk
	Title   string // tag title, or the file name without extension
	ModTime time.Time
	Size    int64
}

// Rel is the path relative to the podcasts root, slash separated.
func (e Episode) Rel() string {
	return e.Feed + "/" + filepath.Base(e.Path)
}

// ScanFeed lists a feed directory newest first (by mtime, then name). A missing
// directory is an empty feed, not an error.
func ScanFeed(root, feed string) ([]Episode, error) {
	dir := filepath.Join(root, feed)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read feed %s: %w", feed, err)
	}

	var eps []Episode
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !audioExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, e.Name())
		eps = append(eps, Episode{
			Feed:    feed,
			Path:    path,
			Title:   readTitle(path),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}

	slices.SortFunc(eps, func(a, b Episode) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return cmp.Compare(filepath.Base(b.Path), filepath.Base(a.Path))
	})
	return eps, nil
}

// Scan reads every configured feed. Feeds that fail to read are logged and left empty.
func Scan(root string, feeds []string, logger *slog.Logger) map[string][]Episode {
	out := make(map[string][]Episode, len(feeds))
	for _, feed := range feeds {
		eps, err := ScanFeed(root, feed)
		if err != nil {
			logger.Warn("scan feed failed", "feed", feed, "error", err)
		}
		out[feed] = eps
		logFeed(logger, feed, eps)
	}
	return out
}

func logFeed(logger *slog.Logger, feed string, eps []Episode) {
	var total int64
	for _, e := range eps {
		total += e.Size
	}
	logger.Debug("feed scanned", "feed", feed, "episodes", len(eps), "size", humanize.Bytes(uint64(total)))
}

// readTitle returns the tag title, falling back to the file name.
func readTitle(path string) string {
	fallback := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	f, err := os.Open(path)
	if err != nil {
		return fallback
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return fallback
	}
	if t := strings.TrimSpace(m.Title()); t != "" {
		return t
	}
	return fallback
}
