package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"calibrator/internal/logger"
	"calibrator/internal/reconcile"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileConfig 是别名文件的结构：
//
//	aliases:
//	  WilliamsPR: SqWpr
//	  EMA: null
type FileConfig struct {
	Aliases map[string]*string `yaml:"aliases"`
}

// AliasSnapshot 对外暴露的只读快照。
type AliasSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Aliases  map[string]string
}

// Table 将快照转换为匹配器使用的别名表。
func (s AliasSnapshot) Table() reconcile.AliasTable {
	return reconcile.NewAliasTable(s.Aliases)
}

// ChangeListener 在别名文件变更时被调用。
type ChangeListener func(AliasSnapshot)

// AliasLoader 从 YAML 文件加载别名表，可选监听热更新。
// 文件中的别名叠加在 base 之上，同名时以文件为准。
type AliasLoader struct {
	path string
	base map[string]string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  AliasSnapshot
	listeners []ChangeListener
}

// NewAliasLoader 读取别名文件；watch 为 true 时开始监听 FS 事件。
func NewAliasLoader(path string, base map[string]string, watch bool) (*AliasLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("alias loader requires path")
	}
	l := &AliasLoader{path: path, base: cloneAliases(base)}
	if err := l.reload(); err != nil {
		return nil, err
	}
	if watch {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read alias file failed: %w", err)
		}
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := l.reload(); err != nil {
				logger.Errorf("alias reload failed (%s): %v", evt.Name, err)
				return
			}
			l.notify()
		})
		v.WatchConfig()
		l.v = v
	}
	return l, nil
}

// Snapshot 返回当前别名快照（深拷贝）。
func (l *AliasLoader) Snapshot() AliasSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// AliasTable 返回当前快照对应的别名表。
func (l *AliasLoader) AliasTable() reconcile.AliasTable {
	return l.Snapshot().Table()
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *AliasLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go safeCall(fn, snap)
}

func (l *AliasLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go safeCall(fn, snap)
	}
}

func safeCall(fn ChangeListener, snap AliasSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("alias listener panic: %v", r)
		}
	}()
	fn(snap)
}

func (l *AliasLoader) reload() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read alias file failed: %w", err)
	}
	fileCfg, err := DecodeAliases(raw)
	if err != nil {
		return fmt.Errorf("parse alias file failed: %w", err)
	}
	merged := cloneAliases(l.base)
	if merged == nil {
		merged = make(map[string]string, len(fileCfg.Aliases))
	}
	for name, target := range fileCfg.Aliases {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if target == nil {
			merged[name] = ""
			continue
		}
		merged[name] = strings.TrimSpace(*target)
	}
	l.mu.Lock()
	l.snapshot = AliasSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Aliases:  merged,
	}
	l.mu.Unlock()
	logger.Infof("Alias loader reloaded %d aliases from %s", len(fileCfg.Aliases), filepath.Base(l.path))
	return nil
}

// DecodeAliases 严格解析别名 YAML，未知字段视为错误；空文件返回空表。
func DecodeAliases(raw []byte) (FileConfig, error) {
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return FileConfig{}, err
	}
	return cfg, nil
}

func cloneAliases(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func cloneSnapshot(src AliasSnapshot) AliasSnapshot {
	return AliasSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Aliases:  cloneAliases(src.Aliases),
	}
}
