package plan

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ladder/internal/logger"

	"github.com/fsnotify/fsnotify"
)

// IngestFunc receives every valid plan found in the watched directory.
type IngestFunc func(ctx context.Context, p *TradePlan, sourcePath string) error

// Watcher ingests trade plan JSON files dropped into a directory. Existing
// files are picked up once at start, then fsnotify drives the rest.
type Watcher struct {
	dir    string
	ingest IngestFunc

	// editors fire several write events while a file is being saved;
	// wait for the file to settle before parsing.
	settleDelay time.Duration

	seen map[string]time.Time
}

func NewWatcher(dir string, ingest IngestFunc) *Watcher {
	return &Watcher{
		dir:         dir,
		ingest:      ingest,
		settleDelay: 200 * time.Millisecond,
		seen:        make(map[string]time.Time),
	}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	w.scanExisting(ctx)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return err
	}
	logger.Infof("✓ 交易计划目录监听已启动: %s", w.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.handleFile(ctx, evt.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("计划目录监听错误: %v", err)
		}
	}
}

func (w *Watcher) scanExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		w.handleFile(ctx, filepath.Join(w.dir, e.Name()))
	}
}

func (w *Watcher) handleFile(ctx context.Context, path string) {
	if !strings.HasSuffix(strings.ToLower(path), ".json") {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	// dedupe repeated write events for an unchanged file
	if last, ok := w.seen[path]; ok && !info.ModTime().After(last) {
		return
	}
	w.seen[path] = info.ModTime()

	time.Sleep(w.settleDelay)
	p, err := LoadFile(path)
	if err != nil {
		logger.Warnf("忽略无效交易计划 %s: %v", filepath.Base(path), err)
		return
	}
	if w.ingest == nil {
		return
	}
	if err := w.ingest(ctx, p, path); err != nil {
		logger.Errorf("计划入库失败 %s: %v", filepath.Base(path), err)
		return
	}
	logger.Infof("✓ 已接收交易计划 %s (%s %s)", filepath.Base(path), p.TradeSetup.Symbol, p.TradeSetup.Direction)
}
