package trace

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var (
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")
)

// Open opens a capture for reading. The path "-" denotes standard input. Captures compressed with zstd or with the
// snappy framing format are decompressed transparently.
func Open(path string) (io.ReadCloser, error) {
	var f *os.File
	if path == "-" {
		f = os.Stdin
	} else {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return nil, err
		}
	}
	rc, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return rc, nil
}

// NewReader wraps r, sniffing for a compression header. Closing the returned reader closes r if it is an io.Closer.
func NewReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	// Peek returns an error for short inputs, which simply means there is no header.
	hdr, _ := br.Peek(len(snappyMagic))

	closer := func() error {
		if c, ok := r.(io.Closer); ok {
			return c.Close()
		}
		return nil
	}

	switch {
	case bytes.HasPrefix(hdr, zstdMagic):
		dec, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(0))
		if err != nil {
			return nil, err
		}
		return &readCloser{Reader: dec, close: func() error {
			dec.Close()
			return closer()
		}}, nil
	case bytes.HasPrefix(hdr, snappyMagic):
		return &readCloser{Reader: snappy.NewReader(br), close: closer}, nil
	default:
		return &readCloser{Reader: br, close: closer}, nil
	}
}

type readCloser struct {
	io.Reader
	close func() error
}

func (rc *readCloser) Close() error { return rc.close() }
