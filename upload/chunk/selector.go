package chunk

// Span is a half-open byte range [Start, End) of a source.
type Span struct {
	Start int64
	End   int64
}

// Length returns the number of bytes covered by the span.
func (s Span) Length() int64 {
	return s.End - s.Start
}

// Next selects the next uploadable span of a source, given the bytes
// accumulated so far, whether the source is finished, the first byte not yet
// uploaded and the chunk size cap in bytes.
//
// A span is returned only when it can be sent immediately:
//   - a full chunk of up to maxChunkBytes once at least MinChunkBytes are
//     pending, trimmed down to a MinChunkBytes multiple when capped by the
//     pending bytes rather than by maxChunkBytes
//   - the short final chunk once the source is finished
//
// Otherwise ok is false: either more data has to arrive first, or everything
// is already uploaded.
func Next(size int64, completed bool, cursor, maxChunkBytes int64) (span Span, ok bool) {
	remaining := size - cursor
	if remaining <= 0 {
		return Span{}, false
	}

	if remaining < MinChunkBytes {
		if !completed {
			return Span{}, false
		}
		return Span{Start: cursor, End: size}, true
	}

	length := remaining
	if length > maxChunkBytes {
		length = maxChunkBytes
	} else {
		length -= length % MinChunkBytes
	}

	return Span{Start: cursor, End: cursor + length}, true
}
