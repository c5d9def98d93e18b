package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/wippyai/memloader"
	"github.com/wippyai/memloader/manager"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	moduleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateModules modelState = iota
	stateLoadPrompt
	stateLookup
)

type inspectModel struct {
	err      error
	mgr      *manager.Manager
	snapshot map[string][]byte
	modules  []manager.ModuleInfo
	inputs   []textinput.Model
	result   string
	selected int
	focusIdx int
	state    modelState
	loadPkg  bool
}

func newInspectModel(mgr *manager.Manager, snapshot map[string][]byte) *inspectModel {
	return &inspectModel{
		mgr:      mgr,
		snapshot: snapshot,
		modules:  mgr.Modules(),
		state:    stateModules,
	}
}

func (m *inspectModel) Init() tea.Cmd {
	return nil
}

func (m *inspectModel) refresh() {
	m.modules = m.mgr.Modules()
	if m.selected >= len(m.modules) {
		m.selected = len(m.modules) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

func (m *inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state == stateModules {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateModules && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateModules && m.selected < len(m.modules)-1 {
				m.selected++
			}

		case "l", "p":
			if m.state == stateModules {
				m.loadPkg = msg.String() == "p"
				ti := textinput.New()
				ti.Prompt = "file: "
				ti.Width = 60
				ti.Focus()
				m.inputs = []textinput.Model{ti}
				m.result = ""
				m.err = nil
				m.state = stateLoadPrompt
				return m, nil
			}

		case "u":
			if m.state == stateModules && len(m.modules) > 0 {
				mod := m.modules[m.selected]
				var err error
				if mod.Kind == memloader.KindPackage {
					err = m.mgr.UnloadPackage(mod.Handle)
				} else {
					err = m.mgr.UnloadImage(mod.Handle)
				}
				m.err = err
				if err == nil {
					m.result = fmt.Sprintf("unloaded one reference of %s", mod.Name)
				}
				m.refresh()
			}

		case "enter":
			switch m.state {
			case stateModules:
				if len(m.modules) == 0 {
					return m, nil
				}
				sym := textinput.New()
				sym.Prompt = "symbol: "
				sym.Width = 40
				sym.Focus()
				res := textinput.New()
				res.Prompt = "resource (type/name): "
				res.Width = 40
				m.inputs = []textinput.Model{sym, res}
				m.focusIdx = 0
				m.result = ""
				m.err = nil
				m.state = stateLookup

			case stateLoadPrompt:
				m.doLoad(m.inputs[0].Value())
				m.state = stateModules
				m.inputs = nil
				m.refresh()

			case stateLookup:
				m.doLookup()
			}

		case "tab":
			if m.state == stateLookup && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			if m.state != stateModules {
				m.state = stateModules
				m.inputs = nil
				m.result = ""
				m.err = nil
			}
		}
	}

	if m.state == stateLoadPrompt || m.state == stateLookup {
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

func (m *inspectModel) doLoad(path string) {
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		m.err = err
		return
	}
	ctx := context.Background()
	name := filepath.Base(path)

	var h memloader.Handle
	if m.loadPkg {
		h, err = m.mgr.LoadPackage(ctx, data, name, nil)
	} else {
		h, err = m.mgr.LoadImage(ctx, data, name)
	}
	if err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.result = fmt.Sprintf("loaded %s as handle %#x", name, uint32(h))
}

func (m *inspectModel) doLookup() {
	if m.selected >= len(m.modules) {
		return
	}
	h := m.modules[m.selected].Handle

	if sym := strings.TrimSpace(m.inputs[0].Value()); sym != "" {
		tok, err := m.mgr.Symbol(h, sym)
		if err != nil {
			m.err = err
			m.result = ""
			return
		}
		m.err = nil
		m.result = fmt.Sprintf("symbol %s = token %#x", sym, tok)
		return
	}

	if spec := strings.TrimSpace(m.inputs[1].Value()); spec != "" {
		typ, name, found := strings.Cut(spec, "/")
		if !found {
			m.err = fmt.Errorf("resource spec must be type/name")
			return
		}
		res, err := m.mgr.FindResource(h, name, typ)
		if err != nil {
			m.err = err
			m.result = ""
			return
		}
		m.err = nil
		m.result = fmt.Sprintf("resource %s/%s: %d bytes", res.Type, res.Name, res.Size)
	}
}

func (m *inspectModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Module Inspector"))
	b.WriteString("\n\n")

	switch m.state {
	case stateModules:
		if len(m.modules) == 0 {
			b.WriteString("No modules loaded.\n")
		} else {
			for i, mod := range m.modules {
				line := fmt.Sprintf("%#-6x %s refs=%d  %s",
					uint32(mod.Handle),
					kindStyle.Render(fmt.Sprintf("%-8s", mod.Kind)),
					mod.Refs,
					moduleStyle.Render(mod.Name))
				if i == m.selected {
					b.WriteString(selectedStyle.Render("> " + line))
				} else {
					b.WriteString("  " + line)
				}
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
		if m.result != "" {
			b.WriteString(resultStyle.Render(m.result))
			b.WriteString("\n")
		}
		if m.err != nil {
			b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
			b.WriteString("\n")
		}
		b.WriteString(helpStyle.Render("↑/↓ select • enter lookup • l load image • p load package • u unload • q quit"))

	case stateLoadPrompt:
		what := "image"
		if m.loadPkg {
			what = "package"
		}
		fmt.Fprintf(&b, "Load %s from file (read fully into memory):\n\n", what)
		b.WriteString(m.inputs[0].View())
		b.WriteString("\n\n")
		if m.err != nil {
			b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
			b.WriteString("\n")
		}
		b.WriteString(helpStyle.Render("enter load • esc back"))

	case stateLookup:
		mod := m.modules[m.selected]
		fmt.Fprintf(&b, "Lookup in %s (handle %#x)\n\n",
			moduleStyle.Render(mod.Name), uint32(mod.Handle))
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		if m.result != "" {
			b.WriteString(resultStyle.Render(m.result))
			b.WriteString("\n")
		}
		if m.err != nil {
			b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
			b.WriteString("\n")
		}
		b.WriteString(helpStyle.Render("tab next field • enter resolve • esc back"))
	}

	return b.String()
}

func runInteractive(depsDir string, log *zap.Logger) error {
	ctx := context.Background()

	snapshot, err := snapshotDir(depsDir)
	if err != nil {
		return err
	}
	mgr, err := manager.New(ctx, manager.WithLogger(log))
	if err != nil {
		return err
	}
	defer mgr.Close(ctx)
	subscribe(ctx, mgr, snapshot)

	p := tea.NewProgram(newInspectModel(mgr, snapshot), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
