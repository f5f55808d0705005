package configstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDebounce 连续写入合并为一次重载的时间窗口
var WatchDebounce = 200 * time.Millisecond

// ReloadFile 读取 YAML 文件并替换当前配置；失败时保留上一次有效的配置
func (s *Store) ReloadFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("configstore: read %s: %w", path, err)
	}
	if err := s.LoadYAML(src); err != nil {
		s.log.Err(err, "配置文件无效，保留当前配置", "path", path)
		return err
	}
	s.log.Info("配置文件已重载", "path", path, "tools", s.Current().Total())
	return nil
}

// Watch 先加载 path，然后监视其变化并重载，直到 ctx 结束。
// 监视所在目录而非文件本身，编辑器以重命名方式保存时也能感知
func (s *Store) Watch(ctx context.Context, path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("configstore: watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("configstore: watch %s: %w", filepath.Dir(path), err)
	}

	_ = s.ReloadFile(path)

	timer := time.NewTimer(WatchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.log.Debug("配置文件变化", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(WatchDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Err(err, "配置文件监视出错", "path", path)
		case <-timer.C:
			_ = s.ReloadFile(path)
		}
	}
}
