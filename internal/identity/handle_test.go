package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeHandle(t *testing.T) {
	tests := []struct {
		name   string
		hint   string
		suffix string
		want   string
	}{
		{name: "bare hint gets suffix", hint: "alice", suffix: "pds.example", want: "alice.pds.example"},
		{name: "trailing separator stripped", hint: "alice.", suffix: "pds.example", want: "alice.pds.example"},
		{name: "suffix already present", hint: "alice.pds.example", suffix: "pds.example", want: "alice.pds.example"},
		{name: "foreign host still gets suffix", hint: "bob.other.example", suffix: "pds.example", want: "bob.other.example.pds.example"},
		{name: "no suffix configured", hint: "alice", suffix: "", want: "alice"},
		{name: "empty hint", hint: "", suffix: "pds.example", want: ""},
		{name: "surrounding whitespace", hint: "  alice ", suffix: "pds.example", want: "alice.pds.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHandle(tt.hint, tt.suffix))
		})
	}
}
