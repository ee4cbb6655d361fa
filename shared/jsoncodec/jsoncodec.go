package jsoncodec

import (
	"github.com/bytedance/sonic"
)

// ConfigStd keeps encoding/json semantics: sorted map keys, HTML escaping and
// compacted json.RawMessage values.
var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}
