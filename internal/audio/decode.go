package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
)

// ErrEmptyAudio is returned when there is nothing to decode.
var ErrEmptyAudio = errors.New("audio data is empty")

// Decode opens an MPEG or RIFF/WAVE payload as a beep stream.
func Decode(payload []byte) (beep.StreamSeekCloser, beep.Format, error) {
	if len(payload) == 0 {
		return nil, beep.Format{}, ErrEmptyAudio
	}

	rc := io.NopCloser(bytes.NewReader(payload))

	var (
		s      beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	if isWAV(payload) {
		s, format, err = wav.Decode(rc)
	} else {
		s, format, err = mp3.Decode(rc)
	}
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("decode audio: %w", err)
	}
	return s, format, nil
}

// Duration returns the playing time of an encoded payload.
func Duration(payload []byte) (time.Duration, error) {
	s, format, err := Decode(payload)
	if err != nil {
		return 0, err
	}
	defer s.Close()
	return format.SampleRate.D(s.Len()), nil
}

func isWAV(payload []byte) bool {
	return len(payload) >= 12 &&
		string(payload[0:4]) == "RIFF" &&
		string(payload[8:12]) == "WAVE"
}

// pcmReader adapts a beep stream to the signed 16-bit little-endian
// interleaved frames oto reads.
type pcmReader struct {
	src      beep.Streamer
	channels int
	buf      [][2]float64
}

func newPCMReader(src beep.Streamer, channels int) *pcmReader {
	return &pcmReader{
		src:      src,
		channels: channels,
		buf:      make([][2]float64, 1024),
	}
}

func (r *pcmReader) Read(p []byte) (int, error) {
	frame := 2 * r.channels
	n := len(p) / frame
	if n == 0 {
		return 0, io.ErrShortBuffer
	}
	if n > len(r.buf) {
		n = len(r.buf)
	}

	got, ok := r.src.Stream(r.buf[:n])
	if got == 0 && !ok {
		if err := r.src.Err(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}

	for i := 0; i < got; i++ {
		out := p[i*frame:]
		sample := r.buf[i]
		if r.channels == 1 {
			binary.LittleEndian.PutUint16(out, uint16(toInt16((sample[0]+sample[1])/2)))
			continue
		}
		binary.LittleEndian.PutUint16(out, uint16(toInt16(sample[0])))
		binary.LittleEndian.PutUint16(out[2:], uint16(toInt16(sample[1])))
	}
	return got * frame, nil
}

func toInt16(v float64) int16 {
	switch {
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	return int16(v * 32767)
}
