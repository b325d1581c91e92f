package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/briolang/brio/memory"
	"github.com/briolang/brio/project"
	"github.com/briolang/brio/runtime"
)

var (
	watchTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	watchFuncStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	watchTypeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	watchSelectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FAFAFA")).
				Background(lipgloss.Color("#7D56F4"))

	watchResultStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#90EE90"))

	watchErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	watchHelpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	watchReloadStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFD866"))
)

func newWatchCmd(verbose *bool) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch <artifact>",
		Short: "Call functions interactively while hot-reloading the module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(*verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			path, err := resolveEntry(args[0])
			if err != nil {
				return err
			}
			if interval <= 0 {
				interval = project.DefaultWatchInterval
				if p, perr := project.Find("."); perr == nil {
					interval = p.WatchInterval()
				}
			}

			p := tea.NewProgram(newWatchModel(path, interval, log), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "reload polling interval (default from brio.toml)")
	return cmd
}

type watchState int

const (
	stateSelectFunc watchState = iota
	stateInputArgs
	stateShowResult
)

type funcInfo struct {
	name       string
	resultType string
	params     []paramInfo
}

type paramInfo struct {
	typ     *memory.Type
	typeStr string
}

type watchModel struct {
	path     string
	interval time.Duration
	log      *zap.Logger

	rt       *runtime.Runtime
	funcs    []funcInfo
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    watchState

	result    string
	err       error
	reloads   int
	reloadAt  time.Time
	reloadErr error
}

func newWatchModel(path string, interval time.Duration, log *zap.Logger) *watchModel {
	return &watchModel{path: path, interval: interval, log: log, state: stateSelectFunc}
}

type loadedMsg struct {
	err   error
	rt    *runtime.Runtime
	funcs []funcInfo
}

type callResultMsg struct {
	err    error
	result string
}

type pollMsg struct{}

type reloadMsg struct {
	changed bool
	err     error
}

func (m *watchModel) Init() tea.Cmd {
	return tea.Batch(m.loadModule, m.schedulePoll())
}

func (m *watchModel) loadModule() tea.Msg {
	rt, err := runtime.New(m.path, runtime.Options{Logger: m.log})
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{rt: rt, funcs: exportedFuncs(rt)}
}

func exportedFuncs(rt *runtime.Runtime) []funcInfo {
	mod := rt.Module()
	var funcs []funcInfo
	for _, name := range mod.Functions() {
		def, _ := mod.Function(name)
		fi := funcInfo{name: name}
		for _, t := range def.Prototype.ArgumentTypes {
			fi.params = append(fi.params, paramInfo{typ: t, typeStr: t.Name()})
		}
		if ret := def.Prototype.ReturnType; ret != nil {
			fi.resultType = ret.Name()
		}
		funcs = append(funcs, fi)
	}
	return funcs
}

func (m *watchModel) schedulePoll() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return pollMsg{} })
}

func (m *watchModel) poll() tea.Msg {
	changed, err := m.rt.Update()
	return reloadMsg{changed: changed, err: err}
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state != stateInputArgs || msg.String() == "ctrl+c" {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					break
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rt = msg.rt
		m.funcs = msg.funcs

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult

	case pollMsg:
		if m.rt == nil {
			return m, m.schedulePoll()
		}
		return m, tea.Batch(m.poll, m.schedulePoll())

	case reloadMsg:
		m.reloadErr = msg.err
		if msg.changed {
			m.reloads++
			m.reloadAt = time.Now()
			m.funcs = exportedFuncs(m.rt)
			if m.selected >= len(m.funcs) {
				m.selected = 0
			}
		}
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *watchModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.params))
	for i, p := range f.params {
		ti := textinput.New()
		ti.Placeholder = p.typeStr
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *watchModel) callFunction() tea.Msg {
	f := m.funcs[m.selected]
	args := make([]any, len(m.inputs))
	for i, input := range m.inputs {
		v, err := parseArg(input.Value(), f.params[i].typ)
		if err != nil {
			return callResultMsg{err: err}
		}
		args[i] = v
	}

	out, err := runtime.Invoke(m.rt, f.name, args...)
	if err != nil {
		return callResultMsg{err: err}
	}
	if out == nil {
		return callResultMsg{result: "(no value)"}
	}
	return callResultMsg{result: fmt.Sprintf("%v", out)}
}

func (m *watchModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return watchErrorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.rt == nil {
		return "Loading module..."
	}

	var b strings.Builder

	b.WriteString(watchTitleStyle.Render("brio watch"))
	b.WriteString(" ")
	b.WriteString(m.path)
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(watchSelectedStyle.Render("> " + m.formatFunc(f)))
			} else {
				b.WriteString("  " + m.formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(watchHelpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		fmt.Fprintf(&b, "Calling %s\n\n", watchFuncStyle.Render(f.name))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(watchTypeStyle.Render(f.params[i].typeStr))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(watchHelpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		fmt.Fprintf(&b, "Result of %s:\n\n", watchFuncStyle.Render(f.name))
		if m.err != nil {
			b.WriteString(watchErrorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(watchResultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(watchHelpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *watchModel) statusLine() string {
	if m.reloadErr != nil {
		return watchErrorStyle.Render(fmt.Sprintf("reload failed: %v", m.reloadErr))
	}
	if m.reloads == 0 {
		return watchHelpStyle.Render(fmt.Sprintf("watching every %s", m.interval))
	}
	return watchReloadStyle.Render(
		fmt.Sprintf("reloaded %d time(s), last at %s", m.reloads, m.reloadAt.Format("15:04:05")))
}

func (m *watchModel) formatFunc(f funcInfo) string {
	var params []string
	for _, p := range f.params {
		params = append(params, watchTypeStyle.Render(p.typeStr))
	}
	result := ""
	if f.resultType != "" {
		result = " -> " + watchTypeStyle.Render(f.resultType)
	}
	return watchFuncStyle.Render(f.name) + "(" + strings.Join(params, ", ") + ")" + result
}
