//go:build !sonic

package pathmap

import "github.com/goccy/go-json"

var (
	jsonMarshalIndent = json.MarshalIndent
	jsonUnmarshal     = json.Unmarshal
)
