package protocol

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"
)

// Compression selects the wire encoding negotiated with the server
// (spec §4.H "Compression negotiated: none, zlib, gzip").
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZlib Compression = "zlib"
	CompressionGzip Compression = "gzip"
)

// contentType returns the Content-Type header advertising the chosen
// compression.
func (c Compression) contentType() string {
	switch c {
	case CompressionZlib:
		return "application/x-compress-zlib"
	case CompressionGzip:
		return "application/x-compress-gzip"
	default:
		return "application/json"
	}
}

func compress(c Compression, body []byte) ([]byte, error) {
	switch c {
	case CompressionZlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return body, nil
	}
}

// decompress decodes body according to the response's declared
// Content-Type, mirroring the request-side negotiation.
func decompress(contentType string, body []byte) ([]byte, error) {
	switch {
	case strings.Contains(contentType, "x-compress-zlib"):
		r, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("protocol: zlib response: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case strings.Contains(contentType, "x-compress-gzip"):
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("protocol: gzip response: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return body, nil
	}
}
