package realtime

import (
	"fmt"
	"time"
)

const (
	DefaultSampleRate = 24000
	DefaultFormat     = FormatLinear16
)

type Format string

const (
	FormatLinear16 Format = "linear16"
	FormatMulaw    Format = "mulaw"
	FormatALaw     Format = "alaw"
)

// ByteSize is the size of one mono sample, or -1 for unknown formats.
func (f Format) ByteSize() int {
	switch f {
	case FormatMulaw, FormatALaw:
		return 1
	case FormatLinear16:
		return 2
	}
	return -1
}

// Encoding describes the raw mono audio streamed into a session.
type Encoding struct {
	SampleRate int
	Format     Format
}

func DefaultEncoding() Encoding {
	return Encoding{SampleRate: DefaultSampleRate, Format: DefaultFormat}
}

func (e Encoding) IsZero() bool {
	return e.SampleRate == 0 || e.Format == ""
}

// Validate checks the combinations the realtime transports accept. The
// companded formats are telephony formats and only exist at 8kHz.
func (e Encoding) Validate() error {
	switch e.SampleRate {
	case 8000, 16000, 24000, 32000, 48000:
	default:
		return fmt.Errorf("unsupported sample rate %d", e.SampleRate)
	}

	switch e.Format {
	case FormatLinear16:
	case FormatMulaw, FormatALaw:
		if e.SampleRate != 8000 {
			return fmt.Errorf("unsupported sample rate %d for %s encoding", e.SampleRate, e.Format)
		}
	default:
		return fmt.Errorf("unsupported encoding %q", e.Format)
	}
	return nil
}

// ChunkBytes returns the number of bytes holding d of audio.
func (e Encoding) ChunkBytes(d time.Duration) int {
	size := e.Format.ByteSize()
	if size <= 0 || e.SampleRate <= 0 {
		return 0
	}
	return int(int64(e.SampleRate) * int64(size) * int64(d) / int64(time.Second))
}
