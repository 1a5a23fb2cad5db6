package cli

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/fmueller/speakerscribe/internal/pipeline"
)

type stopFunc func()

func startSpinner(enabled bool, description string) stopFunc {
	if !enabled {
		return func() {}
	}

	bar := progressbar.NewOptions(
		-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(80*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				_ = bar.Finish()
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			<-doneCh
		})
	}
}

// runProgress shows a spinner per run stage and a count bar over segments.
type runProgress struct {
	mu      sync.Mutex
	spinner stopFunc
	bar     *progressbar.ProgressBar
}

// newRunProgress returns nil when progress output is disabled; the runner
// treats a nil Progress as silent.
func newRunProgress(enabled bool) pipeline.Progress {
	if !enabled {
		return nil
	}
	return &runProgress{}
}

func (p *runProgress) Stage(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopSpinner()
	p.spinner = startSpinner(true, stageTitle(name))
}

func (p *runProgress) Segments(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopSpinner()
	p.bar = progressbar.NewOptions(
		total,
		progressbar.OptionSetDescription("Transcribing segments"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(20),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func (p *runProgress) SegmentDone() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

func (p *runProgress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopSpinner()
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

func (p *runProgress) stopSpinner() {
	if p.spinner != nil {
		p.spinner()
		p.spinner = nil
	}
}

func stageTitle(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
