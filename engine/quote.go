package engine

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Quote returns s as a double-quoted string literal. JSON string syntax is
// accepted unchanged by both Python and R, so generated code can embed
// arbitrary text, including newlines and quotes, with one escaper.
func Quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// strings never fail to encode
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}
