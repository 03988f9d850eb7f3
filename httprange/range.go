// Package httprange builds and parses HTTP Content-Range headers in the
// byte-range form used to frame chunk uploads.
package httprange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SizeUnknown marks the total size of a resource that is still growing.
// It is rendered as "*" on the wire.
const SizeUnknown int64 = -1

// ContentRange is one "bytes start-end/total" header value. End is the
// offset of the last byte in the range, so it is inclusive.
type ContentRange struct {
	Start, End, Total int64
}

// Length returns the number of bytes covered by the range.
func (cr ContentRange) Length() int64 { return cr.End - cr.Start + 1 }

// IsFinal reports whether the range covers the last byte of the resource.
// A range without a known total is never final.
func (cr ContentRange) IsFinal() bool {
	return cr.Total != SizeUnknown && cr.End+1 >= cr.Total
}

func (cr ContentRange) String() string {
	if cr.Total == SizeUnknown {
		return fmt.Sprintf("bytes %d-%d/*", cr.Start, cr.End)
	}
	return fmt.Sprintf("bytes %d-%d/%d", cr.Start, cr.End, cr.Total)
}

// Parse reads a "bytes start-end/total" header value, where total may be
// "*" for a resource of unknown size.
func Parse(s string) (ContentRange, error) {
	const b = "bytes "
	if !strings.HasPrefix(s, b) {
		return ContentRange{}, errors.New("invalid unit of Content-Range header")
	}
	r := strings.Split(s[len(b):], "/")
	if len(r) != 2 {
		return ContentRange{}, errors.New("invalid size of Content-Range header")
	}
	total := SizeUnknown
	if t := strings.TrimSpace(r[1]); t != "*" {
		var err error
		total, err = strconv.ParseInt(t, 10, 64)
		if err != nil || total < 0 {
			return ContentRange{}, errors.New("cannot parse size of Content-Range header")
		}
	}
	r = strings.Split(r[0], "-")
	if len(r) != 2 {
		return ContentRange{}, errors.New("cannot parse Content-Range header, expected format \"start-end\"")
	}
	start, err := strconv.ParseInt(strings.TrimSpace(r[0]), 10, 64)
	if err != nil || start < 0 {
		return ContentRange{}, errors.New("cannot parse start of Content-Range header")
	}
	end, err := strconv.ParseInt(strings.TrimSpace(r[1]), 10, 64)
	if err != nil || end < start {
		return ContentRange{}, errors.New("cannot parse end of Content-Range header")
	}
	if total != SizeUnknown && end >= total {
		return ContentRange{}, errors.New("end of Content-Range header exceeds size")
	}
	return ContentRange{Start: start, End: end, Total: total}, nil
}
