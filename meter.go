package vidsync

import "io"

// chunkMeter wraps a chunk body and accumulates how many payload bytes were
// actually streamed into the multipart request, for throughput accounting in
// the upload logs. Field sizes and multipart framing are not counted.
type chunkMeter struct {
	body io.Reader
	sent int64
}

func (m *chunkMeter) Read(p []byte) (n int, err error) {
	n, err = m.body.Read(p)
	m.sent += int64(n)
	return n, err
}
