package engine

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", `"plain"`},
		{"a,b\n1,2\n", `"a,b\n1,2\n"`},
		{`say "hi"`, `"say \"hi\""`},
		{`back\slash`, `"back\\slash"`},
		{"<tag>&", `"<tag>&"`},
		{"tab\there", `"tab\there"`},
	}
	for _, tt := range tests {
		got := Quote(tt.in)
		assert.Equal(t, tt.want, got)

		back, err := strconv.Unquote(got)
		require.NoError(t, err)
		assert.Equal(t, tt.in, back)
	}
}
