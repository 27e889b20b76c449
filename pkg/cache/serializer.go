package cache

import (
	"encoding/json"
	"strconv"
)

// JSONSerializer JSON 序列化器（默认）
// int64 按十进制文本存取，与 Redis INCR 写入的计数器格式一致
type JSONSerializer struct{}

// Marshal 序列化
func (JSONSerializer) Marshal(v any) ([]byte, error) {
	if n, ok := v.(int64); ok {
		return strconv.AppendInt(nil, n, 10), nil
	}
	return json.Marshal(v)
}

// Unmarshal 反序列化
func (JSONSerializer) Unmarshal(data []byte, v any) error {
	if p, ok := v.(*int64); ok {
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return err
		}
		*p = n
		return nil
	}
	return json.Unmarshal(data, v)
}
