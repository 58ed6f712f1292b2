package cwidget

import (
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/widget"
)

// StatusBar shows a resting text and transient messages that fall back to it
// after their timeout. A newer message cancels the pending reset of an older one.
type StatusBar struct {
	widget.Label

	mu       sync.Mutex
	resting  string
	sequence int
	timer    *time.Timer
}

func NewStatusBar(resting string) *StatusBar {
	s := &StatusBar{resting: resting}
	s.Text = resting
	s.ExtendBaseWidget(s)
	return s
}

// ShowMessage displays text until timeout elapses; a zero timeout keeps it.
// Must be called on the UI goroutine.
func (s *StatusBar) ShowMessage(text string, timeout time.Duration) {
	s.mu.Lock()
	s.sequence++
	seq := s.sequence
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if timeout > 0 {
		s.timer = time.AfterFunc(timeout, func() {
			fyne.Do(func() { s.reset(seq) })
		})
	}
	s.mu.Unlock()

	s.SetText(text)
}

func (s *StatusBar) reset(seq int) {
	s.mu.Lock()
	current := s.sequence == seq
	s.mu.Unlock()

	if current {
		s.SetText(s.resting)
	}
}
