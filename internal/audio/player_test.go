package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/gopxl/beep"
)

// TestPlayerConfig tests the player configuration validation.
func TestPlayerConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    PlayerConfig
		expectErr bool
	}{
		{
			name:   "valid config 44100Hz",
			config: PlayerConfig{SampleRate: 44100, Channels: 1, Volume: 1},
		},
		{
			name:   "valid config 48000Hz",
			config: PlayerConfig{SampleRate: 48000, Channels: 2, BufferSize: 50 * time.Millisecond, Volume: 0.5},
		},
		{
			name:      "invalid sample rate",
			config:    PlayerConfig{SampleRate: 22050, Channels: 1, Volume: 1},
			expectErr: true,
		},
		{
			name:      "invalid channels",
			config:    PlayerConfig{SampleRate: 44100, Channels: 3, Volume: 1},
			expectErr: true,
		},
		{
			name:      "negative buffer",
			config:    PlayerConfig{SampleRate: 44100, Channels: 2, BufferSize: -1, Volume: 1},
			expectErr: true,
		},
		{
			name:      "volume too loud",
			config:    PlayerConfig{SampleRate: 44100, Channels: 2, Volume: 1.5},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(tt.config)
			if (err != nil) != tt.expectErr {
				t.Errorf("validateConfig() error = %v, expectErr %v", err, tt.expectErr)
			}
		})
	}
}

func TestDefaultPlayerConfig(t *testing.T) {
	if err := validateConfig(DefaultPlayerConfig()); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestDecode_Rejects(t *testing.T) {
	if _, _, err := Decode(nil); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("empty payload: %v", err)
	}
	if _, _, err := Decode([]byte("definitely not audio")); err == nil {
		t.Error("expected decode error for garbage")
	}
	if _, err := Duration(nil); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("Duration(nil): %v", err)
	}
}

func TestIsWAV(t *testing.T) {
	header := []byte("RIFF\x24\x00\x00\x00WAVEfmt ")
	if !isWAV(header) {
		t.Error("RIFF/WAVE header not detected")
	}
	if isWAV([]byte{0xFF, 0xFB, 0x90, 0x64}) {
		t.Error("MPEG frame detected as WAV")
	}
}

type constStreamer struct {
	left, right float64
	remaining   int
}

func (s *constStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.remaining == 0 {
		return 0, false
	}
	n := min(len(samples), s.remaining)
	for i := 0; i < n; i++ {
		samples[i] = [2]float64{s.left, s.right}
	}
	s.remaining -= n
	return n, true
}

func (s *constStreamer) Err() error { return nil }

// halfScale is 0.5*32767 held in a variable so int16 conversion truncates at run time.
var halfScale = 0.5 * 32767

func TestPCMReader_Stereo(t *testing.T) {
	r := newPCMReader(&constStreamer{left: 0.5, right: -2, remaining: 3}, 2)

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(data) != 3*4 {
		t.Fatalf("read %d bytes, want 12", len(data))
	}

	left := int16(binary.LittleEndian.Uint16(data[0:]))
	right := int16(binary.LittleEndian.Uint16(data[2:]))
	if left != int16(halfScale) {
		t.Errorf("left = %d", left)
	}
	if right != -32767 {
		t.Errorf("right = %d, want clamped -32767", right)
	}
}

func TestPCMReader_MonoDownmix(t *testing.T) {
	r := newPCMReader(&constStreamer{left: 1, right: 0, remaining: 2}, 1)

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(data) != 2*2 {
		t.Fatalf("read %d bytes, want 4", len(data))
	}
	if got := int16(binary.LittleEndian.Uint16(data)); got != int16(halfScale) {
		t.Errorf("sample = %d", got)
	}
}

func TestPCMReader_Silence(t *testing.T) {
	r := newPCMReader(beep.Silence(100), 2)

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(data) != 400 {
		t.Fatalf("read %d bytes, want 400", len(data))
	}
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d = %d, want silence", i, b)
		}
	}
}

func TestPCMReader_ShortBuffer(t *testing.T) {
	r := newPCMReader(beep.Silence(1), 2)
	if _, err := r.Read(make([]byte, 3)); !errors.Is(err, io.ErrShortBuffer) {
		t.Errorf("expected ErrShortBuffer, got %v", err)
	}
}

func TestPlayerState_String(t *testing.T) {
	states := map[PlayerState]string{
		StateStopped:    "stopped",
		StatePlaying:    "playing",
		StateClosed:     "closed",
		PlayerState(99): "unknown",
	}
	for st, want := range states {
		if st.String() != want {
			t.Errorf("%d.String() = %q, want %q", st, st.String(), want)
		}
	}
}
