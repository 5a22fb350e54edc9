package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/BYTE-6D65/movement/pkg/engine"
	"github.com/BYTE-6D65/movement/pkg/movement"
	"github.com/BYTE-6D65/movement/pkg/testdata"
)

// View states
type viewState int

const (
	viewMainMenu viewState = iota
	viewRunning
	viewResults
)

// runner replays something and reports progress through cb.
type runner func(ctx context.Context, cb testdata.ProgressCallback) (*testdata.Report, error)

// Model holds the state of the TUI
type model struct {
	state  viewState
	cursor int
	width  int
	height int

	ctx    context.Context
	cancel context.CancelFunc
	seed   uint64
	delay  time.Duration

	// a trace replay has no menu and quits from the results
	traceName string
	trace     runner

	// Run execution
	runName  string
	progress *progressMsg
	report   *testdata.Report
	runErr   error

	// Animation
	spinnerFrame int
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7D56F4")).
		PaddingLeft(2)

	menuItemStyle = lipgloss.NewStyle().
		PaddingLeft(4)

	selectedItemStyle = lipgloss.NewStyle().
		PaddingLeft(2).
		Foreground(lipgloss.Color("#7D56F4")).
		Bold(true)

	helpStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#626262")).
		PaddingTop(1).
		PaddingLeft(2)

	panelStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#7D56F4")).
		Padding(0, 2).
		MarginLeft(2)

	labelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#626262")).
		Width(12)

	modeStyles = map[movement.Mode]lipgloss.Style{
		movement.NoMode:  lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")),
		movement.Walking: lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B")).Bold(true),
		movement.Biking:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00A9E0")).Bold(true),
		movement.Driving: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB800")).Bold(true),
	}

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFB800")).
		PaddingLeft(2)

	errorMessageStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#FF5555")).
		Foreground(lipgloss.Color("#FF5555")).
		Padding(0, 2).
		MarginTop(1).
		MarginLeft(2)
)

// Messages
type runCompleteMsg struct {
	report *testdata.Report
	err    error
}

type progressMsg struct {
	count   int
	total   int
	result  engine.Result
	elapsed time.Duration
}

type tickMsg struct{}

// Global program reference for sending progress updates
var globalProgram *tea.Program

func newModel(ctx context.Context, seed uint64, delay time.Duration) model {
	return model{
		state: viewMainMenu,
		ctx:   ctx,
		seed:  seed,
		delay: delay,
	}
}

func (m model) choices() []string {
	choices := make([]string, 0, len(testdata.Scenarios)+1)
	for _, s := range testdata.Scenarios {
		choices = append(choices, scenarioTitle(s))
	}
	return append(choices, "Exit")
}

func scenarioTitle(s testdata.Scenario) string {
	switch s {
	case testdata.ScenarioCommute:
		return "Commute (walk, drive, walk)"
	case testdata.ScenarioRide:
		return "Bike ride"
	case testdata.ScenarioNoisy:
		return "Noisy walk (missing fixes, poor accuracy, bursts)"
	}
	return string(s)
}

func (m model) Init() tea.Cmd {
	if m.trace != nil {
		return func() tea.Msg { return startTraceMsg{} }
	}
	return nil
}

type startTraceMsg struct{}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case startTraceMsg:
		return m.start(m.traceName, m.trace)

	case runCompleteMsg:
		m.cancel = nil
		m.report = msg.report
		m.runErr = msg.err
		m.state = viewResults
		return m, nil

	case progressMsg:
		m.progress = &msg
		return m, nil

	case tickMsg:
		if m.state == viewRunning {
			m.spinnerFrame = (m.spinnerFrame + 1) % 10
			return m, tick()
		}
	}

	return m, nil
}

func (m model) start(name string, run runner) (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	m.runName = name
	m.state = viewRunning
	m.progress = nil
	m.report = nil
	m.runErr = nil
	return m, tea.Batch(execute(ctx, run), tick())
}

func (m model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if k := msg.String(); k == "ctrl+c" || k == "q" {
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit
	}

	switch m.state {
	case viewMainMenu:
		return m.handleMainMenuKeys(msg)
	case viewResults:
		return m.handleResultsKeys(msg)
	}
	return m, nil
}

func (m model) handleMainMenuKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.choices())-1 {
			m.cursor++
		}

	case "enter", " ":
		if m.cursor >= len(testdata.Scenarios) {
			return m, tea.Quit
		}
		scenario := testdata.Scenarios[m.cursor]
		seed, delay := m.seed, m.delay
		return m.start(string(scenario), func(ctx context.Context, cb testdata.ProgressCallback) (*testdata.Report, error) {
			return testdata.RunScenarioWithProgress(ctx, scenario, testdata.Options{Seed: seed, Throttle: delay}, cb)
		})
	}
	return m, nil
}

func (m model) handleResultsKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", " ", "esc":
		if m.trace != nil {
			return m, tea.Quit
		}
		m.state = viewMainMenu
		m.report = nil
		m.runErr = nil
	}
	return m, nil
}

func (m model) View() string {
	switch m.state {
	case viewMainMenu:
		return m.renderMainMenu()
	case viewRunning:
		return m.renderRunning()
	case viewResults:
		return m.renderResults()
	}
	return ""
}

func (m model) renderMainMenu() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Movement Demo - Scenarios") + "\n\n")

	for i, choice := range m.choices() {
		if m.cursor == i {
			b.WriteString(selectedItemStyle.Render("▶ "+choice) + "\n")
		} else {
			b.WriteString(menuItemStyle.Render("  "+choice) + "\n")
		}
	}

	b.WriteString(helpStyle.Render("\nUse ↑/↓ or j/k to navigate • Enter to select • q to quit"))
	return b.String()
}

func (m model) renderRunning() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Replaying %s", m.runName)) + "\n\n")
	b.WriteString("  " + m.spinner() + " Recalculating...\n\n")

	if m.progress == nil {
		b.WriteString("  Initializing...\n")
		b.WriteString(helpStyle.Render("Running... Press q to cancel"))
		return b.String()
	}

	p := m.progress
	percentage := float64(p.count) / float64(p.total) * 100
	fmt.Fprintf(&b, "  %s %.1f%%\n", progressBar(percentage, 40), percentage)
	fmt.Fprintf(&b, "  Changes %d / %d • %v • trace time %s\n\n",
		p.count, p.total, p.elapsed.Round(time.Millisecond), p.result.At.Format(time.TimeOnly))

	b.WriteString(renderResult(p.result))
	b.WriteString(helpStyle.Render("Running... Press q to cancel"))
	return b.String()
}

// renderResult shows the totals, per-mode distances and ledger side by side.
func renderResult(r engine.Result) string {
	speed := "unknown"
	if v, ok := r.Data.Speed.Get(); ok {
		speed = fmt.Sprintf("%.1f km/h", v)
	}
	totals := strings.Join([]string{
		row("Distance", fmt.Sprintf("%.3f km", r.Data.Distance)),
		row("Adjusted", fmt.Sprintf("%.3f km", r.Data.Adjustments)),
		row("Speed", speed),
		row("Mode", modeStyles[r.Data.Mode].Render(r.Data.Mode.String())),
		row("Changes", fmt.Sprint(r.Data.ChangeCount)),
		row("Ignored", fmt.Sprint(r.Data.IgnoreCount)),
	}, "\n")

	modes := strings.Join([]string{
		row(modeStyles[movement.Walking].Render("Walking"), typedSummary(r.Walking)),
		row(modeStyles[movement.Biking].Render("Biking"), typedSummary(r.Biking)),
		row(modeStyles[movement.Driving].Render("Driving"), typedSummary(r.Driving)),
	}, "\n")

	ledger := "no transition"
	if r.Transition != nil {
		var held float64
		pending := 0
		for _, item := range r.Transition {
			held += item.Distance
			if item.Pending() {
				pending++
			}
		}
		ledger = strings.Join([]string{
			row("Entries", fmt.Sprint(len(r.Transition))),
			row("Pending", fmt.Sprint(pending)),
			row("Held", fmt.Sprintf("%.3f km", held)),
		}, "\n")
	}

	out := lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Render(totals),
		panelStyle.Render(modes),
		panelStyle.Render(ledger),
	) + "\n"
	if r.Reason != "" {
		prefix := "transition: "
		if r.Skipped {
			prefix = "skipped: "
		}
		out += warningStyle.Render(prefix+r.Reason) + "\n"
	}
	return out
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func typedSummary(t movement.TypedMovementData) string {
	s := fmt.Sprintf("%.3f km", t.Distance)
	if trip, ok := t.TripDistance.Get(); ok {
		s += fmt.Sprintf(" (trip %.3f km)", trip)
	}
	return s
}

func progressBar(percentage float64, width int) string {
	filled := int(percentage / 100 * float64(width))
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

func (m model) renderResults() string {
	if m.runErr != nil {
		title := "Replay Failed"
		if errors.Is(m.runErr, context.Canceled) {
			title = "Replay Cancelled"
		}
		return titleStyle.Render(title) + "\n\n" +
			errorMessageStyle.Render(m.runErr.Error()) + "\n\n" +
			helpStyle.Render("Press Enter to go back")
	}
	if m.report == nil {
		return "No results available"
	}

	header := titleStyle.Render(fmt.Sprintf("Replay of %s complete", m.runName)) + "\n\n"
	body := renderResult(m.report.Final)
	metrics := panelStyle.Render(testdata.FormatMetrics(m.report.Metrics))

	footer := "\nPress Enter to run another scenario • q to quit"
	if m.trace != nil {
		footer = "\nPress Enter or q to quit"
	}
	return header + body + "\n" + metrics + helpStyle.Render(footer)
}

func (m model) spinner() string {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	return frames[m.spinnerFrame]
}

func execute(ctx context.Context, run runner) tea.Cmd {
	return func() tea.Msg {
		report, err := run(ctx, func(count, total int, result engine.Result, elapsed time.Duration) {
			if globalProgram != nil {
				globalProgram.Send(progressMsg{
					count:   count,
					total:   total,
					result:  result,
					elapsed: elapsed,
				})
			}
		})
		return runCompleteMsg{report: report, err: err}
	}
}

func startTUI(m model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(m.ctx))

	// Set the global program reference for progress updates
	globalProgram = p

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && m.ctx.Err() != nil {
		return nil
	}
	return err
}

func runDemo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	plain := fs.Bool("plain", false, "print every scenario's report instead of the interactive menu")
	seed := fs.Uint64("seed", 1, "seed for the generated traces")
	delay := fs.Duration("delay", 50*time.Millisecond, "wall time between changes in the interactive view")
	fs.Parse(args)

	if !*plain {
		return startTUI(newModel(ctx, *seed, *delay))
	}

	for _, scenario := range testdata.Scenarios {
		report, err := testdata.RunScenario(ctx, scenario, testdata.Options{Seed: *seed})
		if err != nil {
			return fmt.Errorf("%s: %w", scenario, err)
		}
		fmt.Printf("== %s\n%s\n%s\n", scenarioTitle(scenario), testdata.FormatReport(report), testdata.FormatMetrics(report.Metrics))
	}
	return nil
}

func runTraceTUI(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tui", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	entityID := fs.String("entity", "", "tracked entity (default: first configured, else "+defaultEntity+")")
	delay := fs.Duration("delay", 100*time.Millisecond, "wall time between changes")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected one trace file")
	}

	points, err := readTrace(fs.Arg(0))
	if err != nil {
		return err
	}
	cfg, entity, err := loadConfig(*configPath, *entityID)
	if err != nil {
		return err
	}
	// logs would tear the alternate screen
	cfg.LogLevel = "error"
	eng, clk, err := newReplayEngine(ctx, cfg, points[0].At)
	if err != nil {
		return err
	}
	defer eng.Shutdown(context.WithoutCancel(ctx))

	m := newModel(ctx, 0, *delay)
	m.traceName = fs.Arg(0)
	m.trace = func(ctx context.Context, cb testdata.ProgressCallback) (*testdata.Report, error) {
		opts := testdata.Options{Entity: entity, Engine: eng, Clock: clk, Throttle: *delay}
		return testdata.Replay(ctx, testdata.Scenario(m.traceName), points, opts, cb)
	}
	return startTUI(m)
}
