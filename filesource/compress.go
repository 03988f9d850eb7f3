package filesource

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// targetWriter adapts a Target to io.Writer so an encoder can stream
// straight into the upload.
type targetWriter struct {
	target Target
	fed    int64
}

func (w *targetWriter) Write(p []byte) (int, error) {
	if err := w.target.AddChunk(p); err != nil {
		return 0, err
	}
	w.fed += int64(len(p))
	return len(p), nil
}

// FeedCompressed zstd-compresses everything read from r while feeding it
// into target and returns the compressed byte count. The upload then
// frames compressed bytes, so ranges and progress refer to the compressed
// stream.
func FeedCompressed(target Target, r io.Reader, level zstd.EncoderLevel) (int64, error) {
	if level <= 0 {
		level = zstd.SpeedDefault
	}

	w := &targetWriter{target: target}
	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level))
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}

	if _, err := io.Copy(encoder, r); err != nil {
		_ = encoder.Close()
		return w.fed, fmt.Errorf("compress stream: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return w.fed, fmt.Errorf("close zstd writer: %w", err)
	}

	return w.fed, nil
}
