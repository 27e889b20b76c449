package hub

import "sync/atomic"

// SafeRooms 匿名房间集合，支持运行时整体替换
type SafeRooms struct {
	set atomic.Pointer[map[string]struct{}]
}

// NewSafeRooms 创建匿名房间集合
func NewSafeRooms(rooms []string) *SafeRooms {
	s := &SafeRooms{}
	s.Set(rooms)
	return s
}

// Set 替换全部匿名房间
func (s *SafeRooms) Set(rooms []string) {
	set := make(map[string]struct{}, len(rooms))
	for _, room := range rooms {
		set[Normalize(room)] = struct{}{}
	}
	s.set.Store(&set)
}

// Contains 房间是否匿名
func (s *SafeRooms) Contains(room string) bool {
	_, ok := (*s.set.Load())[Normalize(room)]
	return ok
}

// Len 匿名房间数
func (s *SafeRooms) Len() int {
	return len(*s.set.Load())
}
