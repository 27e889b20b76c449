package hub

import "strings"

// RoomIDWidth 房间号固定宽度
const RoomIDWidth = 6

// Normalize 规范化房间号
// 纯数字左侧补零到 6 位，超长数字和非数字原样返回
func Normalize(raw string) string {
	if raw == "" || !isDigits(raw) || len(raw) >= RoomIDWidth {
		return raw
	}
	return strings.Repeat("0", RoomIDWidth-len(raw)) + raw
}

// ValidRoomID 是否为合法房间号（恰好 6 位 ASCII 数字）
func ValidRoomID(raw string) bool {
	return len(raw) == RoomIDWidth && isDigits(raw)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
