package gatt

// ChunkBytes splits data into sequential chunks of at most maxBytes each.
// Concatenating the chunks reproduces data exactly. Returns nil for empty
// data.
func ChunkBytes(data []byte, maxBytes int) [][]byte {
	if len(data) == 0 || maxBytes <= 0 {
		return nil
	}

	chunks := make([][]byte, 0, (len(data)+maxBytes-1)/maxBytes)
	for len(data) > maxBytes {
		chunks = append(chunks, data[:maxBytes])
		data = data[maxBytes:]
	}
	return append(chunks, data)
}
