// internal/codec/codec.go
package codec

import (
	"encoding/binary"

	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/pkg/errors"
)

const lenWidth = 4 // Number of bytes storing a record length

var handle = &codec.MsgpackHandle{}

// Marshal encodes v with msgpack.
func Marshal(v interface{}) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, handle).Encode(v); err != nil {
		return nil, errors.Wrap(err, "msgpack encode")
	}
	return out, nil
}

// Unmarshal decodes msgpack data into v.
func Unmarshal(data []byte, v interface{}) error {
	if err := codec.NewDecoderBytes(data, handle).Decode(v); err != nil {
		return errors.Wrap(err, "msgpack decode")
	}
	return nil
}

// AppendFrame appends record prefixed with its big-endian int32 length.
func AppendFrame(dst, record []byte) []byte {
	var lenBuf [lenWidth]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(record)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, record...)
}

// FrameSize is the number of bytes a record of n bytes occupies in a frame.
func FrameSize(n int) int {
	return lenWidth + n
}

// ErrTruncated is returned when a frame claims more bytes than remain.
var ErrTruncated = errors.New("truncated frame")

// FrameReader walks length-prefixed records written back-to-back.
type FrameReader struct {
	data []byte
	pos  int
	err  error
}

func NewFrameReader(data []byte) *FrameReader {
	return &FrameReader{data: data}
}

// Next returns the next record. ok is false at the end of data or after an
// error; Err tells the two apart.
func (r *FrameReader) Next() (record []byte, ok bool) {
	if r.err != nil || r.pos >= len(r.data) {
		return nil, false
	}
	if len(r.data)-r.pos < lenWidth {
		r.err = errors.Wrapf(ErrTruncated, "length prefix at offset %d", r.pos)
		return nil, false
	}
	n := int(int32(binary.BigEndian.Uint32(r.data[r.pos:])))
	start := r.pos + lenWidth
	if n < 0 || n > len(r.data)-start {
		r.err = errors.Wrapf(ErrTruncated, "record at offset %d declares %d bytes, %d available", r.pos, n, len(r.data)-start)
		return nil, false
	}
	r.pos = start + n
	return r.data[start:r.pos], true
}

func (r *FrameReader) Err() error {
	return r.err
}

// Offset returns the position of the next frame.
func (r *FrameReader) Offset() int {
	return r.pos
}
