package keylock

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
)

const defaultStripes = 256

// Memory serializes keys within one process over a fixed set of stripes.
type Memory struct {
	stripes []chan struct{}
}

func NewMemory(stripes int) *Memory {
	if stripes <= 0 {
		stripes = defaultStripes
	}
	m := &Memory{stripes: make([]chan struct{}, stripes)}
	for i := range m.stripes {
		m.stripes[i] = make(chan struct{}, 1)
	}
	return m
}

func (m *Memory) Lock(ctx context.Context, keys []string) (Unlock, error) {
	indexes := m.indexes(normalize(keys))

	held := make([]int, 0, len(indexes))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-m.stripes[held[i]]
		}
		held = held[:0]
	}

	for _, idx := range indexes {
		select {
		case m.stripes[idx] <- struct{}{}:
			held = append(held, idx)
		case <-ctx.Done():
			release()
			return nil, ErrLockTimeout
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// indexes maps keys to distinct stripes in ascending order.
func (m *Memory) indexes(keys []string) []int {
	set := make(map[int]struct{}, len(keys))
	for _, key := range keys {
		h := fnv.New32a()
		_, _ = h.Write([]byte(key))
		set[int(h.Sum32()%uint32(len(m.stripes)))] = struct{}{}
	}
	out := make([]int, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
