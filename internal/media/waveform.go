package media

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	ErrInvalidWAV     = errors.New("invalid wav file")
	ErrUnsupportedWAV = errors.New("unsupported wav format")
)

// SilenceThresholdDBFS is the RMS level at or below which a waveform is
// treated as containing no speech.
const SilenceThresholdDBFS = -65.0

type Waveform struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int64
	RMSdBFS    float64
	PeakdBFS   float64
}

func (w Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(w.Frames) / float64(w.SampleRate)
}

// Silent reports whether the waveform's level stays under thresholdDBFS. The
// peak may exceed the RMS gate by 6 dB to tolerate clicks.
func (w Waveform) Silent(thresholdDBFS float64) bool {
	if w.Frames == 0 {
		return true
	}
	if math.IsInf(w.RMSdBFS, -1) && math.IsInf(w.PeakdBFS, -1) {
		return true
	}
	return w.RMSdBFS <= thresholdDBFS && w.PeakdBFS <= thresholdDBFS+6
}

// InspectWaveform decodes the WAV at path and checks that it is the 16 kHz
// mono PCM the diarizer expects.
func InspectWaveform(path string) (Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return Waveform{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Waveform{}, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}

	w := Waveform{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if dec.WavAudioFormat != 1 {
		return Waveform{}, fmt.Errorf("%w: audio format %d is not PCM", ErrUnsupportedWAV, dec.WavAudioFormat)
	}
	if w.SampleRate != WaveformSampleRate || w.Channels != WaveformChannels {
		return Waveform{}, fmt.Errorf("%w: got %d Hz with %d channel(s), want %d Hz mono", ErrUnsupportedWAV, w.SampleRate, w.Channels, WaveformSampleRate)
	}
	switch w.BitDepth {
	case 8, 16, 24, 32:
	default:
		return Waveform{}, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedWAV, w.BitDepth)
	}

	peak, sumSquares, samples, err := measure(dec, w.BitDepth)
	if err != nil {
		return Waveform{}, err
	}

	w.Frames = samples / int64(w.Channels)
	if samples == 0 {
		w.RMSdBFS = math.Inf(-1)
		w.PeakdBFS = math.Inf(-1)
		return w, nil
	}

	w.RMSdBFS = amplitudeToDBFS(math.Sqrt(sumSquares / float64(samples)))
	w.PeakdBFS = amplitudeToDBFS(peak)
	return w, nil
}

func measure(dec *wav.Decoder, bitDepth int) (peak, sumSquares float64, samples int64, err error) {
	scale := float64(int64(1) << (bitDepth - 1))
	buf := &audio.IntBuffer{Data: make([]int, 8192)}

	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, 0, 0, fmt.Errorf("read wav samples: %w", err)
		}
		if n == 0 {
			break
		}

		for _, raw := range buf.Data[:n] {
			v := float64(raw) / scale
			if bitDepth == 8 {
				// 8-bit PCM is unsigned.
				v = (float64(raw) - 128) / 128
			}
			if abs := math.Abs(v); abs > peak {
				peak = abs
			}
			sumSquares += v * v
			samples++
		}
	}

	return peak, sumSquares, samples, nil
}

func amplitudeToDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20.0 * math.Log10(amplitude)
}
