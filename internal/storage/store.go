// Package storage 基于 GORM + SQLite 的宿主持久化：配置二进制块与调用审计
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"piper/internal/executor"
	"piper/internal/logger"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gschema "gorm.io/gorm/schema"
)

// Setting 键值设置，Value 为不透明二进制块
type Setting struct {
	Name      string `gorm:"primaryKey;size:191"`
	Value     []byte
	UpdatedAt time.Time
}

// Invocation 一次外部命令调用的审计记录
type Invocation struct {
	ID         string   `gorm:"primaryKey;size:36"`
	Status     string   `gorm:"size:16;index"`
	Argv       []string `gorm:"serializer:json"`
	ExitCode   int
	DurationMS int64
	Error      string
	CreatedAt  time.Time `gorm:"index"`
}

// Options 数据库选项
type Options struct {
	DSN    string
	Prefix string // 表名前缀
	Logger logger.Logger
}

// Store 持久化存储
type Store struct {
	db  *gorm.DB
	log logger.Logger
}

// Open 打开数据库并迁移表结构
func Open(opts Options) (*Store, error) {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	if opts.DSN == "" {
		return nil, errors.New("storage: empty dsn")
	}
	db, err := gorm.Open(sqlite.Open(opts.DSN), &gorm.Config{
		Logger:         NewGormLogger(l.With("component", "storage")),
		NamingStrategy: gschema.NamingStrategy{TablePrefix: opts.Prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", opts.DSN, err)
	}
	if err := db.AutoMigrate(&Setting{}, &Invocation{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &Store{db: db, log: l}, nil
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetBytes 读取设置，不存在时返回 nil
func (s *Store) GetBytes(key string) ([]byte, error) {
	var row Setting
	err := s.db.Where("name = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %q: %w", key, err)
	}
	return row.Value, nil
}

// SetBytes 写入或覆盖设置
func (s *Store) SetBytes(key string, value []byte) error {
	row := Setting{Name: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("storage: set %q: %w", key, err)
	}
	return nil
}

// RecordInvocation 保存一条审计记录，开始事件不落库
func (s *Store) RecordInvocation(ctx context.Context, ev executor.AuditEvent) error {
	if ev.Type == executor.AuditStart {
		return nil
	}
	row := Invocation{
		ID:         ev.ID,
		Status:     string(ev.Type),
		Argv:       ev.Argv,
		ExitCode:   ev.ExitCode,
		DurationMS: ev.Duration.Milliseconds(),
		CreatedAt:  ev.Timestamp,
	}
	if ev.Err != nil {
		row.Error = ev.Err.Error()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// AuditFunc 供执行器使用的审计回调，写入失败只记录日志
func (s *Store) AuditFunc() executor.AuditFunc {
	return func(ev executor.AuditEvent) {
		if err := s.RecordInvocation(context.Background(), ev); err != nil {
			s.log.Err(err, "审计记录写入失败", "invocation", ev.ID)
		}
	}
}

// RecentInvocations 按时间倒序返回最近的审计记录
func (s *Store) RecentInvocations(ctx context.Context, limit int) ([]Invocation, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []Invocation
	err := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&rows).Error
	return rows, err
}

// PruneInvocations 删除早于 before 的审计记录
func (s *Store) PruneInvocations(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&Invocation{})
	return res.RowsAffected, res.Error
}
