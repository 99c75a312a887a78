package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay is how long a path must be quiet before it is imported.
const settleDelay = 200 * time.Millisecond

// watchState tracks what the watcher has done per relative path.
type watchState struct {
	imported map[string]string // path -> article id
	failed   map[string]string // path -> checksum of the content that failed
}

func checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Watch imports every file already under dir, then keeps importing new files
// until ctx is cancelled. Each path becomes at most one article; later edits
// to an imported file are ignored. A file that failed is retried once its
// content changes. cb, if non-nil, receives every attempt's result.
func (im *Importer) Watch(ctx context.Context, dir *Dir, ownerID string, cb func(Result)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("importer: watch: %w", err)
	}
	defer w.Close()

	if err := addDirsRecursive(w, dir.root); err != nil {
		return fmt.Errorf("importer: watch: %w", err)
	}

	st := &watchState{
		imported: make(map[string]string),
		failed:   make(map[string]string),
	}

	existing, err := dir.List()
	if err != nil {
		return err
	}
	for _, rel := range existing {
		im.watchImport(ctx, dir, ownerID, rel, st, cb)
	}

	im.logger.Info("importer: watching", slog.String("root", dir.root), slog.String("owner", ownerID))

	pending := make(map[string]struct{})
	var settleTimer *time.Timer
	var settleCh <-chan time.Time

	schedule := func(rel string) {
		pending[rel] = struct{}{}
		if settleTimer == nil {
			settleTimer = time.NewTimer(settleDelay)
			settleCh = settleTimer.C
		} else {
			settleTimer.Reset(settleDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			im.logger.Info("importer: watch stopped")
			return nil

		case <-settleCh:
			batch := make([]string, 0, len(pending))
			for rel := range pending {
				batch = append(batch, rel)
			}
			clear(pending)
			sort.Strings(batch)
			for _, rel := range batch {
				im.watchImport(ctx, dir, ownerID, rel, st, cb)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			rel, relErr := filepath.Rel(dir.root, ev.Name)
			if relErr != nil || hidden(rel) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						im.logger.Warn("importer: add new dir failed",
							slog.String("path", rel),
							slog.String("error", addErr.Error()))
						continue
					}
					// Files may land before the directory is watched.
					files, _ := dir.walk(ev.Name)
					for _, f := range files {
						schedule(f)
					}
					continue
				}
			}

			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && isImportFile(ev.Name) {
				schedule(rel)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			im.logger.Error("importer: watch error", slog.String("error", watchErr.Error()))
		}
	}
}

func (im *Importer) watchImport(ctx context.Context, dir *Dir, ownerID, rel string, st *watchState, cb func(Result)) {
	if id, ok := st.imported[rel]; ok {
		im.logger.Debug("importer: already imported", slog.String("path", rel), slog.String("article_id", id))
		return
	}
	data, err := dir.Read(rel)
	if err != nil {
		// Removed or renamed before it settled.
		im.logger.Debug("importer: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	sum := checksum(data)
	if st.failed[rel] == sum {
		return
	}

	res := im.create(ctx, ownerID, rel, data)
	if res.Error != "" {
		st.failed[rel] = sum
	} else {
		delete(st.failed, rel)
		st.imported[rel] = res.ArticleID
	}
	im.logResult(res)
	if cb != nil {
		cb(res)
	}
}

// addDirsRecursive adds root and its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
