package image

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Cleaner удаляет старые сохранённые скриншоты по TTL в заданной директории.
type Cleaner struct {
	logger *zap.SugaredLogger
}

func NewCleaner(logger *zap.SugaredLogger) *Cleaner { return &Cleaner{logger: logger} }

// Clean удаляет файлы screenshot-* старше ttl из dir и возвращает их число.
// В режиме debug — ничего не делает.
func (c *Cleaner) Clean(dir string, ttl time.Duration, debug bool) int {
	if debug {
		c.logger.Debugw("DEBUG: очистка скриншотов отключена", "dir", dir, "ttl", ttl.String())
		return 0
	}
	if ttl <= 0 || dir == "" {
		return 0
	}

	deadline := time.Now().Add(-ttl)
	exts := []string{".png", ".jpg", ".jpeg", ".webp", ".gif"}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0
		}
		c.logger.Warnw("Не удалось прочитать директорию для очистки", "dir", dir, "error", err)
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, DumpPrefix) {
			continue
		}
		if slices.IndexFunc(exts, func(ext string) bool { return strings.HasSuffix(lower, ext) }) == -1 {
			continue
		}
		fi, statErr := e.Info()
		if statErr != nil {
			c.logger.Warnw("Не удалось получить информацию о файле при очистке", "name", name, "error", statErr)
			continue
		}
		if fi.ModTime().Before(deadline) {
			full := filepath.Join(dir, name)
			if err := os.Remove(full); err != nil {
				c.logger.Warnw("Не удалось удалить старый файл", "path", full, "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debugw("Очистка старых скриншотов выполнена", "dir", dir, "removed", removed)
	}
	return removed
}

// Run чистит dir каждые interval до отмены ctx.
func (c *Cleaner) Run(ctx context.Context, dir string, ttl, interval time.Duration, debug bool) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Clean(dir, ttl, debug)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Clean(dir, ttl, debug)
		}
	}
}
