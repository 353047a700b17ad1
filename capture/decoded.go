package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/AaronDesignStudio/play-the-chord/transcode"
)

// OpenDecoded decodes any ffmpeg-readable file to mono PCM and wraps it in a
// BufferSource paced at interval. A nil cfg uses transcode defaults.
func OpenDecoded(ctx context.Context, path string, cfg *transcode.DecoderConfig, interval time.Duration) (*BufferSource, error) {
	decoder := transcode.NewDecoder(cfg)

	audio, err := decoder.DecodeFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("capture: decode %s: %w", path, err)
	}
	return NewBufferSource(audio.PCM, audio.SampleRate, interval), nil
}
