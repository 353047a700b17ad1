package capture

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"

	"github.com/AaronDesignStudio/play-the-chord/logging"
)

const wavFormatPCM = 1

// ReadWAV decodes an integer PCM WAV file into mono samples in [-1, 1],
// averaging channels, and returns them with the file's sample rate.
func ReadWAV(path string) ([]float64, int, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "capture",
		"function":  "ReadWAV",
		"path":      path,
	})

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("capture: open wav: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("capture: %s is not a valid WAV file", path)
	}
	if decoder.WavAudioFormat != wavFormatPCM {
		return nil, 0, fmt.Errorf("capture: unsupported WAV audio format %d, only integer PCM", decoder.WavAudioFormat)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("capture: read wav samples: %w", err)
	}

	channels := int(decoder.NumChans)
	bitDepth := int(decoder.BitDepth)
	if channels <= 0 {
		return nil, 0, fmt.Errorf("capture: invalid channel count %d", channels)
	}
	if bitDepth < 8 || bitDepth > 32 {
		return nil, 0, fmt.Errorf("capture: unsupported bit depth %d", bitDepth)
	}

	// Unsigned 8-bit PCM is centred on 128.
	offset := 0
	if bitDepth == 8 {
		offset = 128
	}
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))

	frames := len(buf.Data) / channels
	mono := make([]float64, frames)
	for i := range mono {
		sum := 0
		for ch := range channels {
			sum += buf.Data[i*channels+ch] - offset
		}
		mono[i] = float64(sum) * scale / float64(channels)
	}

	logger.Debug("WAV decoded", logging.Fields{
		"sample_rate": decoder.SampleRate,
		"channels":    channels,
		"bit_depth":   bitDepth,
		"frames":      frames,
	})

	return mono, int(decoder.SampleRate), nil
}

// OpenWAV loads a WAV file into a BufferSource paced at interval
func OpenWAV(path string, interval time.Duration) (*BufferSource, error) {
	samples, sampleRate, err := ReadWAV(path)
	if err != nil {
		return nil, err
	}
	return NewBufferSource(samples, sampleRate, interval), nil
}
