// Package tui is the terminal navigation console.
package tui

import (
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/unav/navclient/domain/navigation"
	"github.com/unav/navclient/pkg/geometry"
)

// Sender queues a navigator message.
type Sender interface {
	Send(msg navigation.Msg) error
}

// SnapshotSource reads the navigator state.
type SnapshotSource interface {
	Snapshot() navigation.Snapshot
}

// Options tunes the console.
type Options struct {
	// Step is how far one key press moves the crosshair or pans, in
	// screen pixels.
	Step float64
	// Refresh is the snapshot polling interval.
	Refresh time.Duration
	// LogLines is how many server log lines are shown.
	LogLines int
}

type mode string

const (
	modeNormal mode = "normal"
	modeInput  mode = "localize"
)

type refreshMsg time.Time

type sentMsg struct{ err error }

type imageMsg struct {
	path string
	data []byte
	err  error
}

// Console is a bubbletea model driving a navigator.
type Console struct {
	sender Sender
	source SnapshotSource
	opts   Options

	snap   navigation.Snapshot
	cursor geometry.Point
	mode   mode
	input  string
	notice string
}

// New creates a console with the crosshair at the origin.
func New(sender Sender, source SnapshotSource, opts Options) *Console {
	if opts.Step <= 0 {
		opts.Step = 10
	}
	if opts.Refresh <= 0 {
		opts.Refresh = 250 * time.Millisecond
	}
	if opts.LogLines <= 0 {
		opts.LogLines = 5
	}
	return &Console{
		sender: sender,
		source: source,
		opts:   opts,
		mode:   modeNormal,
		snap:   source.Snapshot(),
	}
}

func (c *Console) Init() tea.Cmd {
	return tea.Batch(c.send(navigation.LoadFloorplan{}), c.tick())
}

func (c *Console) tick() tea.Cmd {
	return tea.Tick(c.opts.Refresh, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (c *Console) send(msg navigation.Msg) tea.Cmd {
	s := c.sender
	return func() tea.Msg {
		return sentMsg{err: s.Send(msg)}
	}
}

func (c *Console) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case refreshMsg:
		c.snap = c.source.Snapshot()
		return c, c.tick()
	case sentMsg:
		if m.err != nil {
			c.notice = fmt.Sprintf("error: %v", m.err)
		}
		return c, nil
	case imageMsg:
		if m.err != nil {
			c.notice = fmt.Sprintf("cannot read %s: %v", m.path, m.err)
			return c, nil
		}
		c.notice = fmt.Sprintf("localizing with %s", m.path)
		return c, c.send(navigation.Localize{Image: m.data})
	case tea.KeyMsg:
		if c.mode == modeInput {
			return c.handleInputKey(m)
		}
		return c.handleKey(m)
	}
	return c, nil
}

func (c *Console) handleKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	step := c.opts.Step
	c.notice = ""
	switch m.String() {
	case "q", "ctrl+c":
		return c, tea.Quit
	case "up", "k":
		c.cursor.Y -= step
	case "down", "j":
		c.cursor.Y += step
	case "left", "h":
		c.cursor.X -= step
	case "right", "l":
		c.cursor.X += step
	case "enter", " ":
		return c, c.send(navigation.Click{Screen: c.cursor})
	case "w":
		return c, c.send(navigation.PanBy{Deltas: []geometry.Point{{Y: -step}}})
	case "s":
		return c, c.send(navigation.PanBy{Deltas: []geometry.Point{{Y: step}}})
	case "a":
		return c, c.send(navigation.PanBy{Deltas: []geometry.Point{{X: -step}}})
	case "d":
		return c, c.send(navigation.PanBy{Deltas: []geometry.Point{{X: step}}})
	case "r":
		return c, c.send(navigation.ResetView{})
	case "f":
		return c, c.send(navigation.LoadFloorplan{})
	case "p":
		return c, c.send(navigation.SubmitDestination{})
	case "n":
		return c, c.send(navigation.Navigate{})
	case "i":
		c.mode = modeInput
		c.input = ""
	}
	return c, nil
}

func (c *Console) handleInputKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.Type {
	case tea.KeyEsc:
		c.mode = modeNormal
		c.input = ""
	case tea.KeyEnter:
		path := strings.TrimSpace(c.input)
		c.mode = modeNormal
		c.input = ""
		if path == "" {
			return c, nil
		}
		return c, readImage(path)
	case tea.KeyBackspace:
		if len(c.input) > 0 {
			r := []rune(c.input)
			c.input = string(r[:len(r)-1])
		}
	case tea.KeyCtrlC:
		return c, tea.Quit
	case tea.KeySpace:
		c.input += " "
	case tea.KeyRunes:
		c.input += string(m.Runes)
	}
	return c, nil
}

func readImage(path string) tea.Cmd {
	return func() tea.Msg {
		data, err := os.ReadFile(path)
		return imageMsg{path: path, data: data, err: err}
	}
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	panelStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func (c *Console) View() string {
	s := c.snap
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("Navigation %s", s.Location)))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(s.Status))
	b.WriteString("\n\n")

	img := s.View.ToImageSpace(c.cursor)
	fmt.Fprintf(&b, "crosshair screen (%.0f, %.0f) image (%.0f, %.0f)  view scale %.2f origin (%.0f, %.0f)\n",
		c.cursor.X, c.cursor.Y, img.X, img.Y, s.View.Scale, s.View.OriginX, s.View.OriginY)
	if s.Pose != nil {
		fmt.Fprintf(&b, "pose %s\n", s.Pose)
	} else {
		b.WriteString(dimStyle.Render("no pose") + "\n")
	}

	var dests strings.Builder
	if len(s.Destinations) == 0 {
		dests.WriteString(dimStyle.Render("no destinations"))
	}
	for i, d := range s.Destinations {
		line := fmt.Sprintf("%d: %s (%.0f, %.0f)", i, d.Name, d.Location.X, d.Location.Y)
		if s.Selected != nil && s.Selected.ID == d.ID {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		dests.WriteString(line)
		if i < len(s.Destinations)-1 {
			dests.WriteString("\n")
		}
	}

	var steps strings.Builder
	if len(s.Instructions) == 0 {
		steps.WriteString(dimStyle.Render("no instructions"))
	}
	for i, in := range s.Instructions {
		fmt.Fprintf(&steps, "%d. %s", i+1, in)
		if i < len(s.Instructions)-1 {
			steps.WriteString("\n")
		}
	}
	if len(s.Path) > 0 {
		steps.WriteString("\n\n" + dimStyle.Render(s.Path.String()))
	}

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Render(titleStyle.Render("Destinations")+"\n"+dests.String()),
		panelStyle.Render(titleStyle.Render("Instructions")+"\n"+steps.String()),
	))
	b.WriteString("\n")

	if n := len(s.ServerLog); n > 0 {
		from := n - c.opts.LogLines
		if from < 0 {
			from = 0
		}
		b.WriteString(dimStyle.Render(strings.Join(s.ServerLog[from:], "\n")))
		b.WriteString("\n")
	}

	if c.mode == modeInput {
		b.WriteString("\nquery image path: " + c.input + "_\n")
	}
	if c.notice != "" {
		b.WriteString("\n" + noticeStyle.Render(c.notice) + "\n")
	}
	b.WriteString(dimStyle.Render("\narrows/hjkl move  enter select  wasd pan  r reset  f floorplan  i localize  p submit  n navigate  q quit"))
	return b.String()
}
