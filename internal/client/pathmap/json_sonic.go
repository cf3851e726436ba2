//go:build sonic

package pathmap

import "github.com/bytedance/sonic"

var (
	jsonMarshalIndent = sonic.ConfigStd.MarshalIndent
	jsonUnmarshal     = sonic.ConfigStd.Unmarshal
)
