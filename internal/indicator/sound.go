package indicator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/silencevoice/silencevoice/internal/audio"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueComplete
	cueError
)

const (
	cueSampleRate = 16000
	cueGap        = 22 * time.Millisecond
	cueRamp       = 5 * time.Millisecond
	cueGain       = 0.18
)

// tone glides linearly from fromHz to toHz; equal values give a flat pitch.
type tone struct {
	fromHz   float64
	toHz     float64
	duration time.Duration
}

// cueTones: rising for start, falling for stop and error, a two-step chime
// once a transcription is ready.
var cueTones = map[cueKind][]tone{
	cueStart: {
		{fromHz: 660, toHz: 990, duration: 110 * time.Millisecond},
	},
	cueStop: {
		{fromHz: 700, toHz: 520, duration: 120 * time.Millisecond},
	},
	cueComplete: {
		{fromHz: 740, toHz: 740, duration: 65 * time.Millisecond},
		{fromHz: 988, toHz: 988, duration: 90 * time.Millisecond},
	},
	cueError: {
		{fromHz: 480, toHz: 480, duration: 75 * time.Millisecond},
		{fromHz: 360, toHz: 300, duration: 110 * time.Millisecond},
	},
}

var renderedCues = sync.OnceValue(func() map[cueKind][]int16 {
	out := make(map[cueKind][]int16, len(cueTones))
	for kind, tones := range cueTones {
		out[kind] = renderCue(tones)
	}
	return out
})

func emitCue(ctx context.Context, kind cueKind, play func(context.Context, audio.PCM) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	samples := cueSamples(kind)
	if len(samples) == 0 || play == nil {
		return nil
	}
	return play(ctx, audio.PCM{Samples: samples, SampleRate: cueSampleRate, Channels: 1})
}

func cueSamples(kind cueKind) []int16 {
	return renderedCues()[kind]
}

func renderCue(tones []tone) []int16 {
	gap := samplesFor(cueGap)
	var pcm []int16
	for i, t := range tones {
		if i > 0 {
			pcm = append(pcm, make([]int16, gap)...)
		}
		pcm = append(pcm, renderTone(t)...)
	}
	return pcm
}

// renderTone accumulates phase so glides stay continuous, and shapes both
// ends with a raised-cosine ramp to avoid clicks.
func renderTone(t tone) []int16 {
	n := samplesFor(t.duration)
	if n <= 0 || t.fromHz <= 0 || t.toHz <= 0 {
		return nil
	}
	ramp := min(samplesFor(cueRamp), n/2)

	pcm := make([]int16, n)
	phase := 0.0
	for i := range pcm {
		progress := float64(i) / float64(n)
		freq := t.fromHz + (t.toHz-t.fromHz)*progress
		phase += 2 * math.Pi * freq / cueSampleRate

		gain := cueGain * edgeGain(i, n, ramp)
		pcm[i] = int16(math.Round(math.Sin(phase) * gain * math.MaxInt16))
	}
	return pcm
}

func edgeGain(i, n, ramp int) float64 {
	if ramp <= 0 {
		return 1
	}
	edge := min(i, n-1-i)
	if edge >= ramp {
		return 1
	}
	return 0.5 - 0.5*math.Cos(math.Pi*float64(edge)/float64(ramp))
}

func samplesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
