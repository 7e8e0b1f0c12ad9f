package storage

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/maxiofs/dasi/pkg/engine"
)

const maxDatasetName = 64

// DatasetDir names the directory that holds every payload sharing the
// given first-level attributes. The readable part is lossy; the hash
// suffix keeps distinct datasets apart.
func DatasetDir(level engine.Attrs) string {
	var (
		name strings.Builder
		raw  strings.Builder
	)
	for i, a := range level {
		if i > 0 {
			name.WriteByte('_')
		}
		name.WriteString(sanitize(a.Value))
		raw.WriteString(a.Keyword)
		raw.WriteByte(0)
		raw.WriteString(a.Value)
		raw.WriteByte(0)
	}

	readable := name.String()
	if len(readable) > maxDatasetName {
		readable = readable[:maxDatasetName]
	}
	if readable == "" {
		readable = "dataset"
	}

	sum := blake3.Sum256([]byte(raw.String()))
	return readable + "-" + hex.EncodeToString(sum[:4])
}

// BlobPath returns the content-addressed path of a payload inside its
// dataset directory.
func BlobPath(dataset, checksum, algorithm string) string {
	fanout := checksum
	if len(fanout) > 2 {
		fanout = fanout[:2]
	}
	name := checksum
	if algorithm != "" && algorithm != "none" {
		name += "." + algorithm
	}
	return dataset + "/" + fanout + "/" + name
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
