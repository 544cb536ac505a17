// Package rnaseqmisc holds helpers shared by the rnaseqmisc tools: opening
// possibly-compressed inputs, sniffing delimiters of loosely specified tabular
// files, and expanding home-relative paths.
package rnaseqmisc

import (
	"compress/bzip2"
	"compress/gzip"
	"compress/zlib"
	"io"
	"os"

	"github.com/carbocation/pfx"
	"github.com/krolaw/zipstream"
	"github.com/xi2/xz"
)

type DataType byte

const (
	DataTypeInvalid DataType = iota
	DataTypeNoCompression
	DataTypeGzip
	DataTypeZip
	DataTypeXZ
	DataTypeZ
	DataTypeBZip2
)

// Annotation and quantification files come off the sequencing pipelines in
// whatever compression the upstream tool favored, so every reader in this
// repository goes through the magic-byte sniffer below rather than trusting
// file extensions. Byte code signatures from
// https://stackoverflow.com/a/19127748/199475
var byteCodeSigs = map[DataType][]byte{
	DataTypeGzip:  {0x1f, 0x8b, 0x08},
	DataTypeZip:   {0x50, 0x4b, 0x03, 0x04},
	DataTypeXZ:    {0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00},
	DataTypeZ:     {0x1f, 0x9d},
	DataTypeBZip2: {0x42, 0x5a, 0x68},
}

// DetectDataType attempts to detect the data type of a stream by checking
// against a set of known data types.
func DetectDataType(r io.Reader) (DataType, error) {
	buff := make([]byte, 6)
	if _, err := io.ReadAtLeast(r, buff, 1); err != nil {
		return DataTypeInvalid, err
	}

	// Match known signatures
Outer:
	for dt, sig := range byteCodeSigs {
		if len(buff) < len(sig) {
			continue
		}
		for position := range sig {
			if buff[position] != sig[position] {
				continue Outer
			}
		}
		return dt, nil
	}

	return DataTypeNoCompression, nil
}

// MaybeDecompressReadCloserFromFile consumes an open file and yields a reader
// that transparently decompresses it, based on the leading magic bytes rather
// than the file suffix. The file must be seekable; it is rewound before the
// decompressor is attached so no header bytes are lost.
func MaybeDecompressReadCloserFromFile(f *os.File) (io.ReadCloser, error) {
	dt, err := DetectDataType(f)
	if err != nil {
		return nil, pfx.Err(err)
	}

	// Reset to the start of the file so the decompressor sees the header too.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, pfx.Err(err)
	}

	switch dt {
	case DataTypeGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, pfx.Err(err)
		}
		return &readCloserFaker{gz}, nil
	case DataTypeZip:
		return &readCloserFaker{zipstream.NewReader(f)}, nil
	case DataTypeBZip2:
		return &readCloserFaker{bzip2.NewReader(f)}, nil
	case DataTypeXZ:
		reader, err := xz.NewReader(f, 0)
		if err != nil {
			return nil, pfx.Err(err)
		}
		return &readCloserFaker{reader}, nil
	case DataTypeZ:
		zr, err := zlib.NewReader(f)
		if err != nil {
			return nil, pfx.Err(err)
		}
		return &readCloserFaker{zr}, nil
	}

	// No data type detected. For now, we assume this is uncompressed.
	return f, nil
}

// Open opens path (after ~ expansion) and returns a reader that decompresses
// it if needed. Closing the returned ReadCloser closes the underlying file.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(ExpandHome(path))
	if err != nil {
		return nil, pfx.Err(err)
	}

	r, err := MaybeDecompressReadCloserFromFile(f)
	if err != nil {
		f.Close()
		return nil, pfx.Err(err)
	}

	if r == f {
		return f, nil
	}

	return &fileBackedReadCloser{ReadCloser: r, f: f}, nil
}

// readCloserFaker "upgrades" readers that don't need to be closed
type readCloserFaker struct {
	io.Reader
}

func (c *readCloserFaker) Close() error {
	return nil
}

// fileBackedReadCloser closes the backing file along with the wrapping reader.
type fileBackedReadCloser struct {
	io.ReadCloser
	f *os.File
}

func (c *fileBackedReadCloser) Close() error {
	err := c.ReadCloser.Close()
	if ferr := c.f.Close(); err == nil {
		err = ferr
	}

	return err
}
