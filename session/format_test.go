package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHumanSize(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{-1, "-"},
		{0, "0 B"},
		{500, "500 B"},
		{1023, "1,023 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{1073741824, "1.00 GB"},
		{1099511627776, "1.00 TB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, humanSize(tt.input), "humanSize(%d)", tt.input)
	}
}
