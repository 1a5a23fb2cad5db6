package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fmueller/speakerscribe/internal/transcribe"
)

type cutCall struct {
	src      string
	start    float64
	duration float64
	dst      string
}

// fakeTool writes sparse files sized as a constant-bitrate encoder would.
type fakeTool struct {
	mu             sync.Mutex
	bytesPerSecond float64
	durations      map[string]float64
	cuts           []cutCall
	probes         []string
	cutErr         func(dst string) error
	probeErr       error
}

func newFakeTool(bytesPerSecond float64) *fakeTool {
	return &fakeTool{bytesPerSecond: bytesPerSecond, durations: map[string]float64{}}
}

func (f *fakeTool) ProbeDuration(_ context.Context, path string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.probes = append(f.probes, path)
	if f.probeErr != nil {
		return 0, f.probeErr
	}
	d, ok := f.durations[path]
	if !ok {
		return 0, fmt.Errorf("no duration for %s", path)
	}
	return d, nil
}

func (f *fakeTool) Cut(_ context.Context, src string, start, duration float64, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cuts = append(f.cuts, cutCall{src: src, start: start, duration: duration, dst: dst})
	if f.cutErr != nil {
		if err := f.cutErr(dst); err != nil {
			return err
		}
	}

	if err := writeSparse(dst, int64(duration*f.bytesPerSecond)); err != nil {
		return err
	}
	f.durations[dst] = duration
	return nil
}

func (f *fakeTool) cutCalls() []cutCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cutCall(nil), f.cuts...)
}

func (f *fakeTool) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.probes)
}

func writeSparse(path string, size int64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := file.Truncate(size); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

type scriptedTranscriber struct {
	mu      sync.Mutex
	calls   []transcribe.Request
	respond func(req transcribe.Request) (string, error)
}

func (s *scriptedTranscriber) Transcribe(_ context.Context, req transcribe.Request) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	respond := s.respond
	s.mu.Unlock()

	if respond == nil {
		return "text of " + strings.TrimSuffix(filepath.Base(req.AudioPath), filepath.Ext(req.AudioPath)), nil
	}
	return respond(req)
}

func (s *scriptedTranscriber) requests() []transcribe.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transcribe.Request(nil), s.calls...)
}

// wavResampler writes a one second 16 kHz mono tone.
type wavResampler struct{}

func (wavResampler) Resample(_ context.Context, _, dst string) error {
	const samples = 16000
	out := make([]byte, 44+samples*2)
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+samples*2))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1)
	binary.LittleEndian.PutUint16(out[22:], 1)
	binary.LittleEndian.PutUint32(out[24:], 16000)
	binary.LittleEndian.PutUint32(out[28:], 32000)
	binary.LittleEndian.PutUint16(out[32:], 2)
	binary.LittleEndian.PutUint16(out[34:], 16)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000)
		if (i/20)%2 == 1 {
			v = -8000
		}
		binary.LittleEndian.PutUint16(out[44+i*2:], uint16(v))
	}
	return os.WriteFile(dst, out, 0o644)
}

type failingResampler struct{}

func (failingResampler) Resample(context.Context, string, string) error {
	return errors.New("ffmpeg exited with status 1")
}

type countingProgress struct {
	mu     sync.Mutex
	stages []string
	total  int
	done   int
	closed bool
}

func (p *countingProgress) Stage(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, name)
}

func (p *countingProgress) Segments(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
}

func (p *countingProgress) SegmentDone() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
}

func (p *countingProgress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}
