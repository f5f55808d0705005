package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`

	Executor    Executor    `yaml:"executor"`
	Persistence Persistence `yaml:"persistence"`
	Session     Session     `yaml:"session"`
}

// Executor 外部进程执行相关设置
type Executor struct {
	TimeoutMS      int               `yaml:"timeoutMS"`
	MaxOutputBytes int               `yaml:"maxOutputBytes"`
	Concurrency    int               `yaml:"concurrency"`
	Env            map[string]string `yaml:"env"`
	TempDir        string            `yaml:"tempDir"`
}

// Timeout 单次调用超时，0 表示不限制
func (e Executor) Timeout() time.Duration {
	return time.Duration(e.TimeoutMS) * time.Millisecond
}

// Persistence 工具配置持久化设置
type Persistence struct {
	Key   string `yaml:"key"`
	Align bool   `yaml:"align"`
}

// Session 抓取会话默认值
type Session struct {
	DevToolsURL      string `yaml:"devToolsURL"`
	Concurrency      int    `yaml:"concurrency"`
	PendingCapacity  int    `yaml:"pendingCapacity"`
	ProcessTimeoutMS int    `yaml:"processTimeoutMS"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Dsn = "piper.sqlite3"
	c.Sqlite.Prefix = "piper_"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = "logs/piper.log"
	c.Executor = Executor{
		TimeoutMS:      30000,
		MaxOutputBytes: 16 << 20,
		Concurrency:    4,
	}
	c.Persistence = Persistence{Key: "piper.config", Align: true}
	c.Session = Session{
		DevToolsURL:      "http://127.0.0.1:9222",
		Concurrency:      8,
		PendingCapacity:  64,
		ProcessTimeoutMS: 5000,
	}
	return c
}

// Load 读取 YAML 设置文件并覆盖到默认值之上；path 为空时直接返回默认值
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(src, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}
