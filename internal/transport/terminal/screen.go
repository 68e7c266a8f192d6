package terminal

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/term"
)

var ErrNotTerminal = errors.New("output is not a terminal")

const (
	enterAltScreen = "\x1b[?1049h\x1b[H"
	leaveAltScreen = "\x1b[?1049l"
)

// Screen uses the terminal's alternate screen buffer as the exclusive
// full-screen mode.
type Screen struct {
	mu     sync.Mutex
	out    io.Writer
	isTerm bool
	active bool
}

// NewScreen binds to out; fd is the descriptor behind out.
func NewScreen(out io.Writer, fd int) *Screen {
	return &Screen{out: out, isTerm: term.IsTerminal(fd)}
}

func (s *Screen) EnterFullscreen(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isTerm {
		return ErrNotTerminal
	}
	if s.active {
		return nil
	}
	if _, err := io.WriteString(s.out, enterAltScreen); err != nil {
		return err
	}
	s.active = true
	return nil
}

func (s *Screen) ExitFullscreen(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	s.active = false
	_, err := io.WriteString(s.out, leaveAltScreen)
	return err
}

// Active reports whether the alternate screen is shown.
func (s *Screen) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// suspend leaves the alternate screen without releasing it, so resume can
// restore it. It reports whether it was shown.
func (s *Screen) suspend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		_, _ = io.WriteString(s.out, leaveAltScreen)
	}
	return s.active
}

func (s *Screen) resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		_, _ = io.WriteString(s.out, enterAltScreen)
	}
}
