package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ProgressIndicator reports progress of an evaluation pass. On a terminal it
// redraws a bar in place; otherwise it emits periodic structured log lines.
type ProgressIndicator struct {
	mu          sync.Mutex
	name        string
	total       int
	current     int
	startTime   time.Time
	lastLogged  time.Time
	out         io.Writer
	interactive bool
	showETA     bool
	logEvery    time.Duration
	now         func() time.Time
}

// ProgressConfig configures progress indicator behavior
type ProgressConfig struct {
	Interactive bool          `yaml:"interactive"`
	ShowETA     bool          `yaml:"show_eta"`
	LogEvery    time.Duration `yaml:"log_every"` // Default: 5s
	Output      io.Writer     `yaml:"-"`
}

// NewProgressIndicator creates a new progress indicator
func NewProgressIndicator(name string, total int, config ProgressConfig) *ProgressIndicator {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	logEvery := config.LogEvery
	if logEvery <= 0 {
		logEvery = 5 * time.Second
	}
	now := time.Now()
	return &ProgressIndicator{
		name:        name,
		total:       total,
		startTime:   now,
		lastLogged:  now,
		out:         out,
		interactive: config.Interactive,
		showETA:     config.ShowETA,
		logEvery:    logEvery,
		now:         time.Now,
	}
}

// Increment advances progress by one step
func (pi *ProgressIndicator) Increment() {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.update(pi.current+1, "")
}

// UpdateWithMessage sets progress and displays a custom message
func (pi *ProgressIndicator) UpdateWithMessage(current int, message string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.update(current, message)
}

// Current returns done and total
func (pi *ProgressIndicator) Current() (int, int) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.current, pi.total
}

func (pi *ProgressIndicator) update(current int, message string) {
	pi.current = current
	if pi.interactive {
		fmt.Fprint(pi.out, pi.render(message))
		return
	}

	now := pi.now()
	if now.Sub(pi.lastLogged) < pi.logEvery && current < pi.total {
		return
	}
	pi.lastLogged = now
	ev := log.Info().Str("task", pi.name).Int("done", current).Int("total", pi.total)
	if eta, ok := pi.eta(); ok && pi.showETA {
		ev = ev.Dur("eta", eta)
	}
	if message != "" {
		ev = ev.Str("detail", message)
	}
	ev.Msg("Progress")
}

// eta extrapolates the remaining time from the average rate so far
func (pi *ProgressIndicator) eta() (time.Duration, bool) {
	if pi.total <= 0 || pi.current <= 0 {
		return 0, false
	}
	elapsed := pi.now().Sub(pi.startTime)
	perItem := elapsed / time.Duration(pi.current)
	remaining := pi.total - pi.current
	if remaining < 0 {
		remaining = 0
	}
	return perItem * time.Duration(remaining), true
}

func (pi *ProgressIndicator) render(message string) string {
	var output strings.Builder
	output.WriteString("\r\033[K")
	output.WriteString(pi.name)

	if pi.total > 0 {
		barWidth := 20
		filled := barWidth * pi.current / pi.total
		if filled > barWidth {
			filled = barWidth
		}
		output.WriteString(" [")
		output.WriteString(strings.Repeat("█", filled))
		output.WriteString(strings.Repeat("░", barWidth-filled))
		output.WriteString(fmt.Sprintf("] %d/%d (%.1f%%)", pi.current, pi.total, float64(pi.current)/float64(pi.total)*100))
	}

	if eta, ok := pi.eta(); ok && pi.showETA {
		if eta > time.Hour {
			output.WriteString(fmt.Sprintf(" ETA: %v", eta.Round(time.Minute)))
		} else {
			output.WriteString(fmt.Sprintf(" ETA: %v", eta.Round(time.Second)))
		}
	}

	if message != "" {
		output.WriteString(" - ")
		output.WriteString(message)
	}
	return output.String()
}

// Finish completes the progress indicator
func (pi *ProgressIndicator) Finish() {
	pi.FinishWithMessage(fmt.Sprintf("%d items", pi.total))
}

// FinishWithMessage completes the progress indicator with a custom message
func (pi *ProgressIndicator) FinishWithMessage(message string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	duration := pi.now().Sub(pi.startTime)
	if pi.interactive {
		fmt.Fprintf(pi.out, "\r\033[K✅ %s: %s (%v)\n", pi.name, message, duration.Round(time.Millisecond))
		return
	}
	log.Info().Str("task", pi.name).Dur("duration", duration).Msg(message)
}

// Fail marks the progress as failed
func (pi *ProgressIndicator) Fail(reason string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	duration := pi.now().Sub(pi.startTime)
	if pi.interactive {
		fmt.Fprintf(pi.out, "\r\033[K❌ %s failed: %s (%v)\n", pi.name, reason, duration.Round(time.Millisecond))
		return
	}
	log.Error().Str("task", pi.name).Dur("duration", duration).Str("reason", reason).Msg("Failed")
}

// StepLogger logs the named stages of a pass and their timings
type StepLogger struct {
	mu          sync.Mutex
	name        string
	steps       []string
	currentStep int
	stepStart   time.Time
	startTime   time.Time
	stepTimes   []time.Duration
	now         func() time.Time
}

// NewStepLogger creates a new step logger for pass stages
func NewStepLogger(name string, steps []string) *StepLogger {
	now := time.Now()
	return &StepLogger{
		name:        name,
		steps:       steps,
		currentStep: -1,
		stepStart:   now,
		startTime:   now,
		stepTimes:   make([]time.Duration, len(steps)),
		now:         time.Now,
	}
}

// StartStep closes the running step and begins stepName
func (sl *StepLogger) StartStep(stepName string) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	stepIndex := -1
	for i, step := range sl.steps {
		if step == stepName {
			stepIndex = i
			break
		}
	}
	if stepIndex == -1 {
		log.Warn().Str("step", stepName).Msg("Unknown pass step")
		return
	}

	sl.completeLocked()
	sl.currentStep = stepIndex
	sl.stepStart = sl.now()

	log.Debug().
		Str("pass", sl.name).
		Str("step", stepName).
		Int("step_number", stepIndex+1).
		Int("total_steps", len(sl.steps)).
		Msg("Starting pass step")
}

func (sl *StepLogger) completeLocked() {
	if sl.currentStep < 0 {
		return
	}
	d := sl.now().Sub(sl.stepStart)
	sl.stepTimes[sl.currentStep] += d
	log.Debug().
		Str("pass", sl.name).
		Str("step", sl.steps[sl.currentStep]).
		Dur("duration", d).
		Msg("Pass step completed")
	sl.currentStep = -1
}

// StepTimes returns the accumulated duration per step
func (sl *StepLogger) StepTimes() map[string]time.Duration {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	out := make(map[string]time.Duration, len(sl.steps))
	for i, step := range sl.steps {
		out[step] = sl.stepTimes[i]
	}
	return out
}

// Finish closes the last step and logs the timing summary
func (sl *StepLogger) Finish() {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.completeLocked()
	total := sl.now().Sub(sl.startTime)

	ev := log.Info().Str("pass", sl.name).Dur("total_duration", total)
	for i, step := range sl.steps {
		ev = ev.Dur(step, sl.stepTimes[i])
	}
	ev.Msg("Pass completed")
}

// Fail logs the step that was running when the pass failed
func (sl *StepLogger) Fail(reason string) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	failed := "unknown"
	if sl.currentStep >= 0 {
		failed = sl.steps[sl.currentStep]
	}
	log.Error().
		Str("pass", sl.name).
		Str("failed_step", failed).
		Str("reason", reason).
		Msg("Pass failed")
}

// DefaultProgressConfig returns default progress indicator configuration
func DefaultProgressConfig() ProgressConfig {
	return ProgressConfig{
		ShowETA:  true,
		LogEvery: 5 * time.Second,
	}
}

// QuietProgressConfig logs only at completion
func QuietProgressConfig() ProgressConfig {
	return ProgressConfig{
		LogEvery: 24 * time.Hour,
	}
}
