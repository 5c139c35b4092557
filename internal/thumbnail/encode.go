package thumbnail

import "encoding/hex"

// DefaultChunkSize is the number of encoded characters carried per G-code
// line, matching the firmware's per-line payload limit.
const DefaultChunkSize = 80

// EncodeBase16 returns the lowercase base16 (hex) encoding the firmware
// expects for thumbnail payloads.
func EncodeBase16(data []byte) string {
	return hex.EncodeToString(data)
}

// Chunk splits encoded into consecutive slices of at most size characters.
// Non-positive sizes fall back to DefaultChunkSize. Concatenating the
// chunks in order reproduces encoded exactly.
func Chunk(encoded string, size int) []string {
	if encoded == "" {
		return nil
	}
	if size < 1 {
		size = DefaultChunkSize
	}

	chunks := make([]string, 0, (len(encoded)+size-1)/size)
	for i := 0; i < len(encoded); i += size {
		chunks = append(chunks, encoded[i:min(i+size, len(encoded))])
	}
	return chunks
}
