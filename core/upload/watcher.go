package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"soundproof/core/audio"
	"soundproof/logger"

	"github.com/fsnotify/fsnotify"
)

// Watcher hands audio files dropped into a directory to a callback once
// they have stopped changing.
type Watcher struct {
	dir    string
	settle time.Duration
	handle func(ctx context.Context, path string) error
}

// NewWatcher watches dir. A file is handed over after settle without writes.
func NewWatcher(dir string, settle time.Duration, handle func(ctx context.Context, path string) error) *Watcher {
	if settle <= 0 {
		settle = 2 * time.Second
	}
	return &Watcher{dir: dir, settle: settle, handle: handle}
}

// Run blocks until ctx ends. Each file is handled at most once.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听器失败: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("监听目录失败: %w", err)
	}

	// 文件稳定性检查的延迟队列
	pending := make(map[string]time.Time)
	handled := make(map[string]bool)
	checkTicker := time.NewTicker(w.settle / 4)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || handled[event.Name] {
				continue
			}
			if _, ok := audio.ContentType(event.Name, ""); ok {
				pending[event.Name] = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", logger.String("dir", w.dir), logger.ErrorField(err))

		case <-checkTicker.C:
			now := time.Now()
			for path, last := range pending {
				if now.Sub(last) < w.settle {
					continue // 可能还在写入
				}
				delete(pending, path)
				if info, err := os.Stat(path); err != nil || info.IsDir() || info.Size() == 0 {
					continue
				}
				handled[path] = true
				if err := w.handle(ctx, path); err != nil {
					logger.Error("watched file upload failed", logger.String("file", filepath.Base(path)), logger.ErrorField(err))
				}
			}
		}
	}
}
