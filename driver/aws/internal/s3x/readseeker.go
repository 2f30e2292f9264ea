package s3x

import (
	"errors"
	"io"
)

// ReadSeeker reads from an in-memory byte slice.
//
// The SDK rewinds request bodies when it retries, which requires the body to
// implement [io.Seeker]. See https://github.com/aws/aws-sdk-go-v2/issues/1108.
type ReadSeeker struct {
	data []byte
	pos  int
}

var _ io.ReadSeeker = (*ReadSeeker)(nil)

// NewReadSeeker returns a [ReadSeeker] that reads from data.
func NewReadSeeker(data []byte) *ReadSeeker {
	return &ReadSeeker{data: data}
}

// Reset replaces the data the reader reads from and rewinds it to the start.
func (s *ReadSeeker) Reset(data []byte) {
	s.data = data
	s.pos = 0
}

func (s *ReadSeeker) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}

	n := copy(p, s.data[s.pos:])
	s.pos += n

	return n, nil
}

func (s *ReadSeeker) Seek(offset int64, whence int) (int64, error) {
	pos := int(offset)

	switch whence {
	case io.SeekCurrent:
		pos += s.pos
	case io.SeekEnd:
		pos += len(s.data)
	}

	if pos < 0 {
		return 0, errors.New("cannot seek to a negative offset")
	}

	s.pos = pos

	return int64(pos), nil
}
