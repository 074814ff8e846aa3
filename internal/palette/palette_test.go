package palette

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColorFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty name uses first entry", "", Colors[0]},
		{"single rune", "a", Colors[97%16]},
		{"alice", "alice", Colors[(97+108+105+99+101)%16]},
		{"bob", "bob", Colors[(98+111+98)%16]},
		{"summed by code point not byte", "é", Colors[0xE9%16]},
		{"cjk", "玩家", Colors[(0x73A9+0x5BB6)%16]},
		{"invalid utf8 counts as replacement rune", "\xff", Colors[0xFFFD%16]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, ColorFor(tt.input))
		})
	}
}

func TestColorFor_Collisions(t *testing.T) {
	t.Parallel()

	// Anagrams have the same code point sum.
	assert.Equal(t, ColorFor("listen"), ColorFor("silent"))
	// 'a'+'c' == 'b'+'b'
	assert.Equal(t, ColorFor("ac"), ColorFor("bb"))
}

func TestColorFor_PureAndTotal(t *testing.T) {
	t.Parallel()

	inputs := []string{"", " ", "alice", "Bob", "🙂", "a very long participant name indeed", "\x00"}
	for _, in := range inputs {
		first := ColorFor(in)
		assert.Contains(t, Colors[:], first)
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, ColorFor(in))
		}
	}
}
