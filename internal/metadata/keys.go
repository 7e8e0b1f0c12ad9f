package metadata

import (
	"encoding/binary"

	"github.com/maxiofs/dasi/internal/schema"
	"github.com/maxiofs/dasi/pkg/engine"
)

// Key naming scheme. Object keys concatenate length-prefixed keyword and
// value bytes level by level, so the encoding of the first levels of a key
// is a byte prefix of the full key and no two keys share an encoding.
const (
	objectPrefix = "o/"
	refPrefix    = "r/"
)

func appendField(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

// ObjectPrefix encodes the given leading levels of a key.
func ObjectPrefix(levels ...engine.Attrs) string {
	b := []byte(objectPrefix)
	for _, level := range levels {
		for _, a := range level {
			b = appendField(b, a.Keyword)
			b = appendField(b, a.Value)
		}
	}
	return string(b)
}

// ObjectKey returns the catalogue key of a split key.
func ObjectKey(split *schema.Split) string {
	return ObjectPrefix(split.Levels...)
}

// AllObjects is the prefix shared by every object key.
func AllObjects() string {
	return objectPrefix
}

func refKey(uri string) string {
	return refPrefix + uri
}
