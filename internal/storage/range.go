package storage

import (
	"fmt"
	"strconv"
	"strings"

	"cirrus/pkg/errors"
)

// RangeNotSatisfiableError is an unsatisfiable Range request together with
// the resource size, so the transport can answer 416 with
// "Content-Range: bytes */{size}".
type RangeNotSatisfiableError struct {
	Size int64
	err  error
}

func (e *RangeNotSatisfiableError) Error() string { return e.err.Error() }

func (e *RangeNotSatisfiableError) Unwrap() error { return e.err }

// byteRange is a resolved inclusive byte span within a file of known size.
type byteRange struct {
	start int64
	end   int64
}

func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

// contentRange renders the Content-Range response value for a file of
// size bytes.
func (r byteRange) contentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.start, r.end, size)
}

// parseRange resolves a single HTTP Range header value against size.
// Supported forms: "bytes=a-b", "bytes=a-", "bytes=-n" (final n bytes).
// An end past the last byte is clamped to size-1; a start past the end of
// the file, a syntactically broken header, or a multi-range request is
// ErrInvalidRange. Multiple ranges are not served; clients in practice
// send one span per request for media seeking.
func parseRange(header string, size int64) (byteRange, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return byteRange{}, errors.Wrap(errors.ErrInvalidRange, header)
	}

	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return byteRange{}, errors.Wrap(errors.ErrInvalidRange, "multiple ranges not supported")
	}

	dash := strings.Index(spec, "-")
	if dash < 0 {
		return byteRange{}, errors.Wrap(errors.ErrInvalidRange, header)
	}

	startStr := strings.TrimSpace(spec[:dash])
	endStr := strings.TrimSpace(spec[dash+1:])

	if startStr == "" {
		// Suffix form: the final n bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return byteRange{}, errors.Wrap(errors.ErrInvalidRange, header)
		}
		if n > size {
			n = size
		}
		if n == 0 {
			// A zero-byte file has no satisfiable suffix.
			return byteRange{}, errors.Wrap(errors.ErrInvalidRange, header)
		}
		return byteRange{start: size - n, end: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, errors.Wrap(errors.ErrInvalidRange, header)
	}
	if start >= size {
		return byteRange{}, errors.Wrap(errors.ErrInvalidRange, header)
	}

	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return byteRange{}, errors.Wrap(errors.ErrInvalidRange, header)
		}
		if end > size-1 {
			end = size - 1
		}
	}

	return byteRange{start: start, end: end}, nil
}
