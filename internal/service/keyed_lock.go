package service

import (
	"strconv"
	"sync"
)

// KeyedLock 按实体键串行化（同一订单/同一用户的事件按到达顺序处理）
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLock 创建按键互斥锁
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{entries: make(map[string]*keyedEntry)}
}

// Lock 获取键对应的锁，返回释放函数
func (l *KeyedLock) Lock(key string) func() {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &keyedEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.entries, key)
			}
			l.mu.Unlock()
		})
	}
}

func (l *KeyedLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func orderLockKey(orderID uint) string {
	return "order:" + strconv.FormatUint(uint64(orderID), 10)
}

func identityLockKey(identity string) string {
	return "identity:" + identity
}
