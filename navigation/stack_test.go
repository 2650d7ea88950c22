package navigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyStackIsHome(t *testing.T) {
	var s Stack
	assert.Equal(t, ViewHome, s.View())
	_, ok := s.Current()
	assert.False(t, ok)
	assert.Equal(t, "", s.Path())
	assert.ErrorIs(t, s.Descend(Frame{Name: "x"}), ErrEmpty)
}

func TestAscendSingleFrameGoesHome(t *testing.T) {
	var s Stack
	s.Enter(Frame{Name: "Docs"})
	assert.Equal(t, ViewBrowsing, s.View())

	assert.Equal(t, ViewHome, s.Ascend())
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, ViewHome, s.View())
}

func TestAscendMultiFramePopsOne(t *testing.T) {
	var s Stack
	s.Enter(Frame{Name: "Docs"})
	require.NoError(t, s.Descend(Frame{Name: "Drafts"}))
	require.NoError(t, s.Descend(Frame{Name: "2024"}))
	assert.Equal(t, "Docs/Drafts/2024", s.Path())

	parent, ok := s.Parent()
	require.True(t, ok)
	assert.Equal(t, "Drafts", parent.Name)

	assert.Equal(t, ViewBrowsing, s.Ascend())
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "Docs/Drafts", s.Path())
}

func TestEnterReplacesStack(t *testing.T) {
	var s Stack
	s.Enter(Frame{Name: "Docs"})
	require.NoError(t, s.Descend(Frame{Name: "Drafts"}))
	s.Enter(Frame{Name: "Photos"})
	assert.Equal(t, "Photos", s.Path())
	assert.Len(t, s.Frames(), 1)

	s.Reset()
	assert.Equal(t, ViewHome, s.View())
}

func TestFramesIsACopy(t *testing.T) {
	var s Stack
	s.Enter(Frame{Name: "Docs"})
	frames := s.Frames()
	frames[0].Name = "changed"
	assert.Equal(t, "Docs", s.Path())
}
