package models

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestObfuscate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"short", "abc", "a****"},
		{"seven", "abcdefg", "a****"},
		{"long", "abcdefghijkl", "abc****ijkl"},
		{"multibyte short", "ключ", "к****"},
		{"multibyte long", "токен-секрет", "ток****крет"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Obfuscate(tt.in)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
