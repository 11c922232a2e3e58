package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rjsadow/dolist/internal/todos"
)

// todoItem adapts a todo to bubbles/list.Item.
type todoItem struct{ todos.Todo }

func (i todoItem) Title() string       { return i.Todo.Title }
func (i todoItem) Description() string { return "" }
func (i todoItem) FilterValue() string { return i.Todo.Title }

// itemDelegate renders one todo per line.
type itemDelegate struct{}

func (d itemDelegate) Height() int                         { return 1 }
func (d itemDelegate) Spacing() int                        { return 0 }
func (d itemDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(todoItem)
	if !ok {
		return
	}
	box, text := mutedStyle.Render(boxUnchecked), it.Todo.Title
	if it.Completed {
		box, text = successStyle.Render(boxChecked), doneStyle.Render(text)
	}
	prefix := "  "
	if index == m.Index() {
		prefix = accentStyle.Render("> ")
	}
	fmt.Fprintf(w, "%s%s %s", prefix, box, text)
}

type inputMode int

const (
	modeBrowse inputMode = iota
	modeAdd
	modeEdit
)

// Messages produced by API commands.
type (
	loadedMsg struct{ items []todos.Todo }
	errMsg    struct{ err error }
)

var (
	addKey    = key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add"))
	editKey   = key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit"))
	toggleKey = key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "toggle"))
	deleteKey = key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete"))
	reloadKey = key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload"))
	quitKey   = key.NewBinding(key.WithKeys("q", "esc"), key.WithHelp("q", "quit"))
)

// tuiModel is the interactive todo browser. Every change is sent to the API
// right away and the list is reloaded from the response.
type tuiModel struct {
	ctx    context.Context
	client *todos.Client

	list     list.Model
	input    textinput.Model
	mode     inputMode
	editID   int64
	editDone bool
	status   string
	busy     bool
}

func newTUIModel(ctx context.Context, client *todos.Client) tuiModel {
	l := list.New(nil, itemDelegate{}, 0, 0)
	l.Title = "Todos"
	l.SetShowHelp(true)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.SetStatusBarItemName("todo", "todos")
	l.Styles.Title = titleStyle
	l.FilterInput.Prompt = "/ "
	extra := func() []key.Binding { return []key.Binding{addKey, editKey, toggleKey, deleteKey, reloadKey} }
	l.AdditionalShortHelpKeys = extra
	l.AdditionalFullHelpKeys = extra

	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 255

	return tuiModel{ctx: ctx, client: client, list: l, input: ti, busy: true}
}

func (r *Runner) doTUI(ctx context.Context) int {
	p := tea.NewProgram(newTUIModel(ctx, r.Client), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		r.fail("tui: " + err.Error())
		return 1
	}
	return 0
}

func (m tuiModel) Init() tea.Cmd { return m.load() }

// load fetches the current list.
func (m tuiModel) load() tea.Cmd {
	ctx, client := m.ctx, m.client
	return func() tea.Msg {
		items, err := client.List(ctx)
		if err != nil {
			return errMsg{err}
		}
		return loadedMsg{items}
	}
}

// mutate runs op and reloads the list when it succeeds.
func (m tuiModel) mutate(op func(context.Context, *todos.Client) error) tea.Cmd {
	ctx, client, reload := m.ctx, m.client, m.load()
	return func() tea.Msg {
		if err := op(ctx, client); err != nil {
			return errMsg{err}
		}
		return reload()
	}
}

func (m tuiModel) selected() (todos.Todo, bool) {
	it, ok := m.list.SelectedItem().(todoItem)
	return it.Todo, ok
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width-4, msg.Height-6)
		return m, nil

	case loadedMsg:
		m.busy, m.status = false, ""
		items := make([]list.Item, 0, len(msg.items))
		for _, t := range msg.items {
			items = append(items, todoItem{t})
		}
		m.list.Title = m.header(msg.items)
		return m, m.list.SetItems(items)

	case errMsg:
		m.busy, m.status = false, msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		if m.mode != modeBrowse {
			return m.updateInput(msg)
		}
		if m.list.FilterState() == list.Filtering {
			break
		}
		return m.updateBrowse(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m tuiModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, quitKey):
		return m, tea.Quit

	case key.Matches(msg, reloadKey):
		m.busy = true
		return m, m.load()

	case key.Matches(msg, addKey):
		m.mode = modeAdd
		m.input.SetValue("")
		m.input.Placeholder = "What needs to be done?"
		return m, m.input.Focus()

	case key.Matches(msg, editKey):
		t, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.mode, m.editID, m.editDone = modeEdit, t.ID, t.Completed
		m.input.SetValue(t.Title)
		m.input.CursorEnd()
		return m, m.input.Focus()

	case key.Matches(msg, toggleKey):
		t, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.busy = true
		return m, m.mutate(func(ctx context.Context, c *todos.Client) error {
			_, err := c.Update(ctx, t.ID, t.Title, !t.Completed)
			return err
		})

	case key.Matches(msg, deleteKey):
		t, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.busy = true
		return m, m.mutate(func(ctx context.Context, c *todos.Client) error {
			return c.Remove(ctx, t.ID)
		})
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m tuiModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = modeBrowse
		m.input.Blur()
		return m, nil

	case tea.KeyEnter:
		title := strings.TrimSpace(m.input.Value())
		if title == "" {
			m.status = "title cannot be empty"
			return m, nil
		}
		mode, id, done := m.mode, m.editID, m.editDone
		m.mode, m.status, m.busy = modeBrowse, "", true
		m.input.Blur()
		if mode == modeAdd {
			return m, m.mutate(func(ctx context.Context, c *todos.Client) error {
				_, err := c.Create(ctx, title, false)
				return err
			})
		}
		return m, m.mutate(func(ctx context.Context, c *todos.Client) error {
			_, err := c.Update(ctx, id, title, done)
			return err
		})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m tuiModel) header(items []todos.Todo) string {
	d, p := stats(items)
	return fmt.Sprintf("%s   %s %d  %s %d  %s %d",
		titleStyle.Render("Todos"),
		successStyle.Render("✔"), d,
		pendingStyle.Render("•"), p,
		accentStyle.Render("Total"), len(items),
	)
}

func (m tuiModel) View() string {
	content := m.list.View()

	if m.mode != modeBrowse {
		label := "Add todo"
		if m.mode == modeEdit {
			label = fmt.Sprintf("Edit #%d", m.editID)
		}
		bar := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1)
		content += "\n" + bar.Render(label+"\n"+m.input.View())
	}

	switch {
	case m.status != "":
		content += "\n" + errorStyle.Render(m.status)
	case m.busy:
		content += "\n" + mutedStyle.Render("working...")
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1).
		Render(content)
}
