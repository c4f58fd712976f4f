package tui

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unav/navclient/domain/navigation"
	"github.com/unav/navclient/pkg/geometry"
	nav "github.com/unav/navclient/pkg/navigation"
	"github.com/unav/navclient/pkg/spatial"
	"github.com/unav/navclient/pkg/view"
)

type recorder struct {
	mu   sync.Mutex
	msgs []navigation.Msg
	snap navigation.Snapshot
}

func (r *recorder) Send(msg navigation.Msg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) Snapshot() navigation.Snapshot { return r.snap }

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press applies a key and runs any resulting command once.
func press(t *testing.T, c *Console, k tea.KeyMsg) tea.Msg {
	t.Helper()
	_, cmd := c.Update(k)
	if cmd == nil {
		return nil
	}
	msg := cmd()
	c.Update(msg)
	return msg
}

func TestCrosshairClick(t *testing.T) {
	r := &recorder{snap: navigation.Snapshot{View: view.Identity()}}
	c := New(r, r, Options{Step: 5})

	press(t, c, key("right"))
	press(t, c, key("right"))
	press(t, c, key("up"))
	press(t, c, key("enter"))

	require.Len(t, r.msgs, 1)
	assert.Equal(t, navigation.Click{Screen: geometry.Point{X: 10, Y: -5}}, r.msgs[0])
}

func TestPanAndCommands(t *testing.T) {
	r := &recorder{snap: navigation.Snapshot{View: view.Identity()}}
	c := New(r, r, Options{Step: 4})

	for _, k := range []string{"a", "r", "f", "p", "n"} {
		press(t, c, key(k))
	}

	assert.Equal(t, []navigation.Msg{
		navigation.PanBy{Deltas: []geometry.Point{{X: -4}}},
		navigation.ResetView{},
		navigation.LoadFloorplan{},
		navigation.SubmitDestination{},
		navigation.Navigate{},
	}, r.msgs)
}

func TestLocalizeFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xd8, 0xff}, 0644))

	r := &recorder{snap: navigation.Snapshot{View: view.Identity()}}
	c := New(r, r, Options{})

	press(t, c, key("i"))
	assert.Contains(t, c.View(), "query image path")
	press(t, c, key(path))

	_, cmd := c.Update(key("enter"))
	require.NotNil(t, cmd)
	_, cmd = c.Update(cmd())
	require.NotNil(t, cmd)
	c.Update(cmd())

	require.Len(t, r.msgs, 1)
	assert.Equal(t, navigation.Localize{Image: []byte{0xff, 0xd8, 0xff}}, r.msgs[0])
}

func TestLocalizeMissingFileShowsNotice(t *testing.T) {
	r := &recorder{snap: navigation.Snapshot{View: view.Identity()}}
	c := New(r, r, Options{})

	press(t, c, key("i"))
	press(t, c, key("/definitely/not/here.jpg"))
	press(t, c, key("enter"))

	assert.Empty(t, r.msgs)
	assert.Contains(t, c.View(), "cannot read")
}

func TestViewShowsState(t *testing.T) {
	dest := spatial.Destination{ID: "b", Name: "Exit", Location: geometry.Point{X: 100}}
	r := &recorder{snap: navigation.Snapshot{
		View:         view.Identity(),
		Status:       "2 instructions, 10.00 meters total",
		Destinations: []spatial.Destination{{ID: "a", Name: "Elevator"}, dest},
		Selected:     &dest,
		Pose:         &nav.Pose{X: 1, Y: 2, Heading: 90},
		Instructions: []nav.Instruction{{Clock: 3, DistanceMeters: 5}},
		ServerLog:    []string{"planner ready"},
	}}
	c := New(r, r, Options{})
	out := c.View()

	assert.Contains(t, out, "2 instructions, 10.00 meters total")
	assert.Contains(t, out, "0: Elevator")
	assert.Contains(t, out, "1: Exit")
	assert.Contains(t, out, "Rotate to 3 o'clock, walk 5.00 meters")
	assert.Contains(t, out, "pose [1, 2, 90]")
	assert.Contains(t, out, "planner ready")
}

func TestQuit(t *testing.T) {
	r := &recorder{snap: navigation.Snapshot{View: view.Identity()}}
	c := New(r, r, Options{})
	_, cmd := c.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
