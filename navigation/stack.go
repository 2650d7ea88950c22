// Package navigation tracks where the user is inside an authorized tree.
package navigation

import (
	"errors"
	"strings"

	"dirbrowse/host"
)

type View string

const (
	ViewHome     View = "home"
	ViewBrowsing View = "browsing"
)

var ErrEmpty = errors.New("navigation stack is empty")

// Frame is one directory on the path from the root to the current view.
type Frame struct {
	Name   string
	Handle host.DirectoryHandle
}

// Stack is the root-first sequence of frames. It is empty exactly when the
// view is home; the top frame is the directory being listed.
type Stack struct {
	frames []Frame
}

// Enter replaces the stack with root.
func (s *Stack) Enter(root Frame) {
	s.frames = []Frame{root}
}

// Descend pushes f. It fails on an empty stack since a subdirectory needs
// a parent to descend from.
func (s *Stack) Descend(f Frame) error {
	if len(s.frames) == 0 {
		return ErrEmpty
	}
	s.frames = append(s.frames, f)
	return nil
}

// Ascend pops the top frame. Popping the root clears the stack and the view
// goes back to home.
func (s *Stack) Ascend() View {
	if len(s.frames) <= 1 {
		s.frames = nil
		return ViewHome
	}
	s.frames = s.frames[:len(s.frames)-1]
	return ViewBrowsing
}

func (s *Stack) Reset() {
	s.frames = nil
}

func (s *Stack) View() View {
	if len(s.frames) == 0 {
		return ViewHome
	}
	return ViewBrowsing
}

func (s *Stack) Current() (host.DirectoryHandle, bool) {
	if len(s.frames) == 0 {
		return nil, false
	}
	return s.frames[len(s.frames)-1].Handle, true
}

// Parent returns the frame below the top, if any.
func (s *Stack) Parent() (Frame, bool) {
	if len(s.frames) < 2 {
		return Frame{}, false
	}
	return s.frames[len(s.frames)-2], true
}

func (s *Stack) Len() int { return len(s.frames) }

// Frames returns a copy of the stack, root first.
func (s *Stack) Frames() []Frame {
	return append([]Frame(nil), s.frames...)
}

// Path joins the frame names for display.
func (s *Stack) Path() string {
	names := make([]string, len(s.frames))
	for i, f := range s.frames {
		names[i] = f.Name
	}
	return strings.Join(names, "/")
}
