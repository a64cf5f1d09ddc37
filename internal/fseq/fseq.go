// Package fseq writes uncompressed FSEQ v2 control tracks.
package fseq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	HeaderSize   = 32
	MajorVersion = 2
	MinorVersion = 0
	// DefaultStepMS is 20 frames per second.
	DefaultStepMS = 50
)

var magic = [4]byte{'F', 'S', 'E', 'Q'}

var (
	ErrBadMagic     = errors.New("fseq: bad magic")
	ErrFrameSize    = errors.New("fseq: frame length does not match channel count")
	ErrFrameOverrun = errors.New("fseq: more frames than declared")
	ErrFrameShort   = errors.New("fseq: fewer frames than declared")
)

// Header is the fixed 32-byte FSEQ v2 header.
type Header struct {
	ChannelCount uint32
	FrameCount   uint32
	StepMS       uint16
	Major        uint8
	Minor        uint8
	DataOffset   uint8
	Compression  uint8
	HeaderLength uint16
}

// NewHeader fills in the constant fields for an uncompressed v2 track.
func NewHeader(channels, frames uint32, stepMS uint16) Header {
	return Header{
		ChannelCount: channels,
		FrameCount:   frames,
		StepMS:       stepMS,
		Major:        MajorVersion,
		Minor:        MinorVersion,
		DataOffset:   HeaderSize,
		HeaderLength: HeaderSize,
	}
}

// MarshalBinary encodes the header little-endian; bytes 20-31 stay zero.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], magic[:])
	buf[4] = h.DataOffset
	buf[5] = h.Compression
	buf[6] = h.Minor
	buf[7] = h.Major
	binary.LittleEndian.PutUint16(buf[8:10], h.HeaderLength)
	binary.LittleEndian.PutUint32(buf[10:14], h.ChannelCount)
	binary.LittleEndian.PutUint32(buf[14:18], h.FrameCount)
	binary.LittleEndian.PutUint16(buf[18:20], h.StepMS)
	return buf, nil
}

// ReadHeader decodes the first 32 bytes of a track.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("read fseq header: %w", err)
	}
	if [4]byte(buf[0:4]) != magic {
		return Header{}, ErrBadMagic
	}
	return Header{
		DataOffset:   buf[4],
		Compression:  buf[5],
		Minor:        buf[6],
		Major:        buf[7],
		HeaderLength: binary.LittleEndian.Uint16(buf[8:10]),
		ChannelCount: binary.LittleEndian.Uint32(buf[10:14]),
		FrameCount:   binary.LittleEndian.Uint32(buf[14:18]),
		StepMS:       binary.LittleEndian.Uint16(buf[18:20]),
	}, nil
}

// FrameCount is max(1, ceil(durationMS/stepMS)).
func FrameCount(durationMS uint32, stepMS uint16) uint32 {
	if stepMS == 0 {
		stepMS = DefaultStepMS
	}
	n := (uint64(durationMS) + uint64(stepMS) - 1) / uint64(stepMS)
	if n < 1 {
		return 1
	}
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}

// Encode writes a header followed by every frame. Each frame must be exactly
// totalChannels long.
func Encode(w io.Writer, frames [][]byte, totalChannels uint32, stepMS uint16) error {
	fw, err := NewWriter(w, totalChannels, uint32(len(frames)), stepMS)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := fw.WriteFrame(f); err != nil {
			return err
		}
	}
	return fw.Close()
}

// Writer streams frames after writing the header up front, so frames never
// need to be held in memory.
type Writer struct {
	w        io.Writer
	header   Header
	written  uint32
	bytesOut int64
}

func NewWriter(w io.Writer, totalChannels, frameCount uint32, stepMS uint16) (*Writer, error) {
	h := NewHeader(totalChannels, frameCount, stepMS)
	buf, _ := h.MarshalBinary()
	n, err := w.Write(buf)
	if err != nil {
		return nil, fmt.Errorf("write fseq header: %w", err)
	}
	return &Writer{w: w, header: h, bytesOut: int64(n)}, nil
}

func (fw *Writer) Header() Header { return fw.header }

// BytesWritten includes the header.
func (fw *Writer) BytesWritten() int64 { return fw.bytesOut }

func (fw *Writer) WriteFrame(frame []byte) error {
	if uint32(len(frame)) != fw.header.ChannelCount {
		return fmt.Errorf("%w: got %d, want %d", ErrFrameSize, len(frame), fw.header.ChannelCount)
	}
	if fw.written >= fw.header.FrameCount {
		return ErrFrameOverrun
	}
	n, err := fw.w.Write(frame)
	fw.bytesOut += int64(n)
	if err != nil {
		return fmt.Errorf("write frame %d: %w", fw.written, err)
	}
	fw.written++
	return nil
}

// Close checks that the declared frame count was honoured. It does not close
// the underlying writer.
func (fw *Writer) Close() error {
	if fw.written != fw.header.FrameCount {
		return fmt.Errorf("%w: wrote %d of %d", ErrFrameShort, fw.written, fw.header.FrameCount)
	}
	return nil
}
