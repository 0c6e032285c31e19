package stratum

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// newSessionID returns a version-4 UUID as 32 hex characters (128 bits,
// of which 122 are random; the version and variant bits are fixed).
func newSessionID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")
}

func marshalErrorTuple(code int, message string) ([]byte, error) {
	return json.Marshal([]interface{}{code, message, nil})
}
