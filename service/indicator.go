package service

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
)

const (
	IndicatorProcessing = "Processing..."
	IndicatorConnecting = "Connecting..."
)

// Indicators
// For long-running operations, we can use a spinner indicator

type Indicator struct {
	mu sync.Mutex
	s  *spinner.Spinner
}

var (
	globalIndicator *Indicator
	indicatorOnce   sync.Once
)

// GetIndicator returns the singleton indicator instance
func GetIndicator() *Indicator {
	indicatorOnce.Do(func() {
		globalIndicator = &Indicator{}
		globalIndicator.setupSpinner()
	})
	return globalIndicator
}

func (i *Indicator) setupSpinner() {
	i.s = spinner.New(spinner.CharSets[14],
		100*time.Millisecond,
		spinner.WithWriter(os.Stderr))
	i.s.Suffix = fmt.Sprintf(" %s", IndicatorProcessing)
	i.s.Color("fgHiMagenta", "bold")
}

func (i *Indicator) IsActive() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.s != nil && i.s.Active()
}

func (i *Indicator) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.s != nil && i.s.Active() {
		i.s.Stop()
	}
}

func (i *Indicator) Start(text string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if text == "" {
		text = IndicatorProcessing
	}

	// Always restart to ensure fresh state
	if i.s.Active() {
		i.s.Stop()
	}

	i.s.Lock()
	i.s.Suffix = fmt.Sprintf(" %s", text)
	i.s.Unlock()
	i.s.Start()
}
