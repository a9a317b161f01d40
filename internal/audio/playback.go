package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jfreymuth/pulse"
)

// PCM is interleaved signed 16-bit audio.
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Play writes pcm to the default Pulse sink and blocks until it drained or
// ctx is cancelled.
func Play(ctx context.Context, pcm PCM, mediaName string) error {
	if len(pcm.Samples) == 0 {
		return nil
	}
	if pcm.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", pcm.SampleRate)
	}

	client, err := newClient("audio-speakers")
	if err != nil {
		return err
	}
	defer client.Close()

	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if ctx.Err() != nil || cursor >= len(pcm.Samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, pcm.Samples[cursor:])
		cursor += n
		if cursor >= len(pcm.Samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	opts := []pulse.PlaybackOption{
		pulse.PlaybackSampleRate(pcm.SampleRate),
		pulse.PlaybackLatency(0.05),
		pulse.PlaybackMediaName(mediaName),
	}
	if pcm.Channels == 2 {
		opts = append(opts, pulse.PlaybackStereo)
	} else {
		opts = append(opts, pulse.PlaybackMono)
	}

	stream, err := client.NewPlayback(reader, opts...)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play %s: %w", mediaName, err)
	}
	return ctx.Err()
}

// ErrNotWAV is returned by DecodeWAV for input without a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// DecodeWAV extracts 16-bit PCM from a RIFF/WAVE byte stream. Streams written
// to a pipe often carry placeholder chunk sizes; the data chunk is then read
// to the end of input.
func DecodeWAV(data []byte) (PCM, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return PCM{}, ErrNotWAV
	}

	var (
		pcm       PCM
		haveFmt   bool
		bitsPer   uint16
		formatTag uint16
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if size < 0 || end > len(data) || (id == "data" && size == 0) {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return PCM{}, errors.New("wav fmt chunk too short")
			}
			formatTag = binary.LittleEndian.Uint16(data[body : body+2])
			pcm.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			pcm.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPer = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return PCM{}, errors.New("wav data chunk before fmt chunk")
			}
			if formatTag != 1 || bitsPer != 16 {
				return PCM{}, fmt.Errorf("unsupported wav encoding (format=%d bits=%d)", formatTag, bitsPer)
			}
			raw := data[body:end]
			pcm.Samples = make([]int16, len(raw)/2)
			for i := range pcm.Samples {
				pcm.Samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
			}
			return pcm, nil
		}

		pos = end + (end-body)%2
	}
	return PCM{}, errors.New("wav stream has no data chunk")
}
