// Package observable 提供按下标寻址、写时复制的可观察列表
package observable

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ErrIndex 下标越界
var ErrIndex = errors.New("observable: index out of range")

// ChangeKind 变更类型
type ChangeKind int

const (
	Replaced ChangeKind = iota
	Inserted
	Removed
	Reset
)

func (k ChangeKind) String() string {
	switch k {
	case Replaced:
		return "replaced"
	case Inserted:
		return "inserted"
	case Removed:
		return "removed"
	case Reset:
		return "reset"
	}
	return "unknown"
}

// Change 变更通知，[Start, End] 为受影响的闭区间下标；单元素变更时 Start == End
type Change struct {
	Kind       ChangeKind
	Start, End int
}

// CommitFunc 在新快照发布前调用，返回错误时变更被放弃
type CommitFunc[T any] func(next []T) error

// List 可观察列表。每次变更构造新的底层切片，先提交再发布，读者总能看到完整快照
type List[T any] struct {
	mu       sync.Mutex // 保护 items 与订阅表
	notifyMu sync.Mutex // 保证通知顺序与提交顺序一致
	guard    sync.Locker // 可选，外层锁，提交类变更先于 mu 获取
	items    []T
	commit   CommitFunc[T]
	nextID   int
	watches  map[int]func(Change)
}

// NewList 以 items 的副本创建列表，commit 可为 nil
func NewList[T any](items []T, commit CommitFunc[T]) *List[T] {
	return &List[T]{
		items:   slices.Clone(items),
		commit:  commit,
		watches: make(map[int]func(Change)),
	}
}

// NewGuardedList 同 NewList，但提交类变更在整个读改提交期间持有 guard。
// 多个列表共享同一 guard 时，持有 guard 的一方可以安全地用 Load 同步全部列表
func NewGuardedList[T any](items []T, guard sync.Locker, commit CommitFunc[T]) *List[T] {
	l := NewList(items, commit)
	l.guard = guard
	return l
}

// Len 元素个数
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// At 返回下标 i 处的元素
func (l *List[T]) At(i int) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	if i < 0 || i >= len(l.items) {
		return zero, fmt.Errorf("%w: %d (len %d)", ErrIndex, i, len(l.items))
	}
	return l.items[i], nil
}

// Snapshot 当前内容的副本
func (l *List[T]) Snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.items)
}

// SetAt 替换下标 i 处的元素
func (l *List[T]) SetAt(i int, v T) error {
	return l.mutate(func(cur []T) ([]T, Change, error) {
		if i < 0 || i >= len(cur) {
			return nil, Change{}, fmt.Errorf("%w: %d (len %d)", ErrIndex, i, len(cur))
		}
		next := slices.Clone(cur)
		next[i] = v
		return next, Change{Kind: Replaced, Start: i, End: i}, nil
	})
}

// Update 以 fn 的返回值替换下标 i 处的元素
func (l *List[T]) Update(i int, fn func(T) T) error {
	return l.mutate(func(cur []T) ([]T, Change, error) {
		if i < 0 || i >= len(cur) {
			return nil, Change{}, fmt.Errorf("%w: %d (len %d)", ErrIndex, i, len(cur))
		}
		next := slices.Clone(cur)
		next[i] = fn(cur[i])
		return next, Change{Kind: Replaced, Start: i, End: i}, nil
	})
}

// Insert 在下标 i 处插入，i == Len() 时追加
func (l *List[T]) Insert(i int, v T) error {
	return l.mutate(func(cur []T) ([]T, Change, error) {
		if i < 0 || i > len(cur) {
			return nil, Change{}, fmt.Errorf("%w: %d (len %d)", ErrIndex, i, len(cur))
		}
		return slices.Insert(slices.Clone(cur), i, v), Change{Kind: Inserted, Start: i, End: i}, nil
	})
}

// Append 追加到末尾
func (l *List[T]) Append(v T) error {
	return l.mutate(func(cur []T) ([]T, Change, error) {
		n := len(cur)
		return append(slices.Clone(cur), v), Change{Kind: Inserted, Start: n, End: n}, nil
	})
}

// RemoveAt 删除下标 i 处的元素
func (l *List[T]) RemoveAt(i int) error {
	return l.mutate(func(cur []T) ([]T, Change, error) {
		if i < 0 || i >= len(cur) {
			return nil, Change{}, fmt.Errorf("%w: %d (len %d)", ErrIndex, i, len(cur))
		}
		return slices.Delete(slices.Clone(cur), i, i+1), Change{Kind: Removed, Start: i, End: i}, nil
	})
}

// ReplaceAll 整体替换内容，通知范围覆盖新旧内容中较长的一方
func (l *List[T]) ReplaceAll(items []T) error {
	return l.mutate(func(cur []T) ([]T, Change, error) {
		end := max(len(cur), len(items)) - 1
		return slices.Clone(items), Change{Kind: Reset, Start: 0, End: end}, nil
	})
}

// Load 替换内容并通知，不经过提交钩子也不获取 guard，用于同步已在别处持久化的状态
func (l *List[T]) Load(items []T) {
	_ = l.apply(false, func(cur []T) ([]T, Change, error) {
		end := max(len(cur), len(items)) - 1
		return slices.Clone(items), Change{Kind: Reset, Start: 0, End: end}, nil
	})
}

// Subscribe 注册变更回调，返回取消函数。回调在写者 goroutine 上同步执行，不得再修改本列表
func (l *List[T]) Subscribe(fn func(Change)) (cancel func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.watches[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.watches, id)
		l.mu.Unlock()
	}
}

func (l *List[T]) mutate(fn func(cur []T) ([]T, Change, error)) error {
	return l.apply(true, fn)
}

func (l *List[T]) apply(commit bool, fn func(cur []T) ([]T, Change, error)) error {
	guarded := commit && l.guard != nil
	if guarded {
		l.guard.Lock()
	}
	unlock := func() {
		l.mu.Unlock()
		if guarded {
			l.guard.Unlock()
		}
	}

	l.mu.Lock()
	next, ch, err := fn(l.items)
	if err != nil {
		unlock()
		return err
	}
	if commit && l.commit != nil {
		if err := l.commit(next); err != nil {
			unlock()
			return fmt.Errorf("observable: commit: %w", err)
		}
	}
	l.items = next
	watchers := make([]func(Change), 0, len(l.watches))
	for _, id := range slices.Sorted(maps.Keys(l.watches)) {
		watchers = append(watchers, l.watches[id])
	}
	l.notifyMu.Lock()
	unlock()
	defer l.notifyMu.Unlock()

	for _, w := range watchers {
		w(ch)
	}
	return nil
}
