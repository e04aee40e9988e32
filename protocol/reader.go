package protocol

import "encoding/binary"

// LengthSize is the size of the little endian length prefix of every frame.
const LengthSize = 4

// FrameReader reassembles length prefixed frames from a stream of arbitrarily
// sized chunks. A frame may span any number of chunks and a chunk may hold
// any number of frames, or parts of them.
//
// Returned frames include their 4 byte length prefix.
//
// There is no upper bound on the frame length.
type FrameReader struct {
	buf       []byte
	offset    int
	bytesRead int
	length    uint32
}

func NewFrameReader() *FrameReader {
	return &FrameReader{}
}

// Feed consumes chunk and returns every frame it completes, in order. Bytes
// of an incomplete frame are retained for the next call.
func (r *FrameReader) Feed(chunk []byte) [][]byte {
	var (
		frames [][]byte
		pos    int
	)

	for pos < len(chunk) {
		if r.bytesRead < LengthSize {
			for pos < len(chunk) && r.bytesRead < LengthSize {
				r.length |= uint32(chunk[pos]) << (8 * r.bytesRead)
				pos++
				r.bytesRead++
			}

			if r.bytesRead < LengthSize {
				// The rest of the length prefix is in the next chunk
				break
			}

			r.buf = make([]byte, LengthSize+int(r.length))
			binary.LittleEndian.PutUint32(r.buf, r.length)
			r.offset = LengthSize
		}

		if r.offset < len(r.buf) {
			n := copy(r.buf[r.offset:], chunk[pos:])
			r.offset += n
			r.bytesRead += n
			pos += n

			if r.offset < len(r.buf) {
				break
			}
		}

		frames = append(frames, r.buf)
		r.reset()
	}

	return frames
}

// Buffered reports how many bytes of an incomplete frame are held.
func (r *FrameReader) Buffered() int {
	return r.bytesRead
}

func (r *FrameReader) reset() {
	r.buf = nil
	r.offset = 0
	r.bytesRead = 0
	r.length = 0
}
