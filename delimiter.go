package rnaseqmisc

import (
	"bytes"
	"io"

	"github.com/carbocation/pfx"
	"github.com/csimplestring/go-csv/detector"
)

// DetermineDelimiter returns the single most likely rune that would delimit
// the values in the reader, assuming a CSV-like file. Count matrices arrive as
// either comma- or tab-delimited text depending on which tool exported them,
// so loaders sniff instead of hardcoding.
func DetermineDelimiter(r io.Reader) rune {
	d := detector.New()
	delimiters := d.DetectDelimiter(r, '"')

	if len(delimiters) > 0 {
		return rune(delimiters[0][0])
	}

	return ','
}

// SniffDelimiter reads up to the first sniffLimit bytes of a possibly
// compressed file and reports the detected delimiter along with a reader that
// replays the file from the beginning.
func SniffDelimiter(path string) (rune, io.ReadCloser, error) {
	r, err := Open(path)
	if err != nil {
		return 0, nil, pfx.Err(err)
	}

	head := make([]byte, sniffLimit)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		r.Close()
		return 0, nil, pfx.Err(err)
	}
	head = head[:n]

	delim := DetermineDelimiter(bytes.NewReader(head))

	return delim, &replayReadCloser{
		Reader: io.MultiReader(bytes.NewReader(head), r),
		c:      r,
	}, nil
}

const sniffLimit = 64 * 1024

type replayReadCloser struct {
	io.Reader
	c io.Closer
}

func (r *replayReadCloser) Close() error {
	return r.c.Close()
}
