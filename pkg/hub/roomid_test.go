package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"123", "000123"},
		{"0", "000000"},
		{"000123", "000123"},
		{"1234567", "1234567"},
		{"abc", "abc"},
		{"12a", "12a"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}

	assert.Equal(t, Normalize("42"), Normalize("000042"), "same room after normalization")
}

func TestValidRoomID(t *testing.T) {
	assert.True(t, ValidRoomID("000123"))
	assert.True(t, ValidRoomID("999999"))
	assert.False(t, ValidRoomID("123"))
	assert.False(t, ValidRoomID("1234567"))
	assert.False(t, ValidRoomID("12a456"))
	assert.False(t, ValidRoomID("１２３４５６"))
	assert.False(t, ValidRoomID(""))
}
