package main

import (
	"context"
	"fmt"
	"time"

	"github.com/AaronDesignStudio/play-the-chord/algorithms/chroma"
	"github.com/AaronDesignStudio/play-the-chord/capture"
	"github.com/AaronDesignStudio/play-the-chord/capture/microphone"
	"github.com/AaronDesignStudio/play-the-chord/config"
	"github.com/AaronDesignStudio/play-the-chord/transcode"
)

// buildSource returns the configured capture source and a label for logs
// and the journal.
func buildSource(ctx context.Context, cfg *config.Config) (capture.Source, string, error) {
	sc := cfg.Source
	interval := cfg.Detector.DetectionInterval()

	switch sc.Kind {
	case config.SourceMicrophone:
		mic := microphone.New(microphone.Config{
			SampleRate:      sc.SampleRate,
			FramesPerBuffer: sc.FramesPerBuffer,
			WindowSize:      cfg.Detector.BufferSize,
			DCBlockHz:       sc.DCBlockHz,
		})
		return mic, "microphone", nil

	case config.SourceTone:
		note, err := chroma.ParseNote(sc.Tone)
		if err != nil {
			return nil, "", err
		}
		d := time.Duration(sc.ToneSeconds * float64(time.Second))
		src := capture.NewToneSource(sc.SampleRate, interval, capture.NoteTone(note, 0.5, d))
		return src, "tone:" + note.String(), nil

	case config.SourceWAV:
		src, err := capture.OpenWAV(sc.Path, interval)
		if err != nil {
			return nil, "", err
		}
		return src, "wav:" + sc.Path, nil

	case config.SourceFile:
		dc := transcode.DefaultDecoderConfig()
		dc.TargetSampleRate = sc.SampleRate
		if sc.FFmpegPath != "" {
			dc.FFmpegPath = sc.FFmpegPath
		}
		src, err := capture.OpenDecoded(ctx, sc.Path, dc, interval)
		if err != nil {
			return nil, "", err
		}
		return src, "file:" + sc.Path, nil
	}
	return nil, "", fmt.Errorf("unknown source kind %q", sc.Kind)
}
