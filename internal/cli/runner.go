// Package cli implements the dolist command-line client on top of the
// authenticated todo API client.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rjsadow/dolist/internal/todos"
)

// Options tune output behavior from root flags.
type Options struct {
	Group bool // list grouped by pending/done
}

// Runner executes subcommands against a todo API client.
type Runner struct {
	Client     *todos.Client // nil until a token is configured
	ConfigPath string        // where login and logout store the token
	Out        io.Writer
	Err        io.Writer
	Opts       Options
}

// Run dispatches subcommands and returns an exit code (0 ok, 1 error, 2 usage).
func (r *Runner) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		PrintHelp(r.Err)
		return 2
	}
	cmd, a := args[0], args[1:]

	switch cmd {
	case "help", "-h", "--help":
		PrintHelp(r.Out)
		return 0

	case "login":
		if len(a) != 1 {
			r.fail("usage: dolist login <token>")
			return 2
		}
		return r.doLogin(a[0])

	case "logout":
		return r.doLogout()
	}

	if r.Client == nil {
		r.fail("not logged in")
		fmt.Fprintln(r.Err, mutedStyle.Render("Hint: run `dolist login <token>` or set DOLIST_TOKEN"))
		return 1
	}

	switch cmd {
	case "ls":
		return r.doList(ctx)

	case "tui":
		return r.doTUI(ctx)

	case "add":
		if len(a) == 0 {
			r.fail("usage: dolist add <title...>")
			return 2
		}
		return r.doAdd(ctx, strings.Join(a, " "))

	case "done":
		if len(a) != 1 {
			r.fail("usage: dolist done <id>")
			return 2
		}
		id, ok := r.parseID("done", a[0])
		if !ok {
			return 2
		}
		return r.doToggle(ctx, id)

	case "edit":
		if len(a) < 2 {
			r.fail("usage: dolist edit <id> <title...>")
			return 2
		}
		id, ok := r.parseID("edit", a[0])
		if !ok {
			return 2
		}
		return r.doEdit(ctx, id, strings.Join(a[1:], " "))

	case "rm":
		if len(a) != 1 {
			r.fail("usage: dolist rm <id>")
			return 2
		}
		id, ok := r.parseID("rm", a[0])
		if !ok {
			return 2
		}
		return r.doRemove(ctx, id)
	}

	r.fail("unknown subcommand: " + cmd)
	fmt.Fprintln(r.Err)
	PrintHelp(r.Err)
	return 2
}

// PrintHelp writes usage to w.
func PrintHelp(w io.Writer) {
	fmt.Fprint(w, `dolist - command-line client for the dolist todo API

Usage:
  dolist [-group] [-config path] <subcommand> [args]

Subcommands:
  login <token>        Store an access token in the config file
  logout               Forget the stored token
  ls                   List todos
  tui                  Browse and edit todos interactively
  add <title...>       Add a todo (title can be multiple words)
  done <id>            Toggle completion of a todo
  edit <id> <title...> Rename a todo
  rm <id>              Remove a todo

Configuration is read from the config file (see -config), then from:
  DOLIST_TOKEN         Access token for the todo API
  DOLIST_API_URL       Todo API base URL (default http://localhost:9000)
  DOLIST_API_TIMEOUT   Per-request timeout (default 2s)
`)
}

func (r *Runner) doLogin(token string) int {
	if err := SaveToken(r.ConfigPath, token); err != nil {
		r.fail("login: " + err.Error())
		return 1
	}
	r.ok("token saved to " + r.ConfigPath)
	return 0
}

func (r *Runner) doLogout() int {
	if err := DeleteToken(r.ConfigPath); err != nil {
		r.fail("logout: " + err.Error())
		return 1
	}
	r.ok("logged out")
	return 0
}

func (r *Runner) doList(ctx context.Context) int {
	items, err := r.Client.List(ctx)
	if err != nil {
		return r.apiError("ls", err)
	}

	d, p := stats(items)
	header := fmt.Sprintf("%s  %s %d  %s %d  %s %d",
		titleStyle.Render("Todos"),
		successStyle.Render("✔"), d,
		pendingStyle.Render("•"), p,
		accentStyle.Render("Total"), len(items),
	)

	lines := []string{header, mutedStyle.Render(progressBar(d, d+p, 28)), ""}
	if r.Opts.Group {
		lines = append(lines, groupLines(items)...)
	} else {
		lines = append(lines, flatLines(items)...)
	}
	panel(r.Out, lines)
	return 0
}

func (r *Runner) doAdd(ctx context.Context, title string) int {
	title = strings.TrimSpace(title)
	if title == "" {
		r.fail("add: empty title")
		return 2
	}
	created, err := r.Client.Create(ctx, title, false)
	if err != nil {
		return r.apiError("add", err)
	}
	r.ok(fmt.Sprintf("added #%d", created.ID))
	return 0
}

func (r *Runner) doToggle(ctx context.Context, id int64) int {
	current, err := r.Client.Get(ctx, id)
	if err != nil {
		return r.apiError("done", err)
	}
	if _, err := r.Client.Update(ctx, id, current.Title, !current.Completed); err != nil {
		return r.apiError("done", err)
	}
	r.ok("toggled")
	return 0
}

func (r *Runner) doEdit(ctx context.Context, id int64, title string) int {
	title = strings.TrimSpace(title)
	if title == "" {
		r.fail("edit: empty title")
		return 2
	}
	current, err := r.Client.Get(ctx, id)
	if err != nil {
		return r.apiError("edit", err)
	}
	if _, err := r.Client.Update(ctx, id, title, current.Completed); err != nil {
		return r.apiError("edit", err)
	}
	r.ok("renamed")
	return 0
}

func (r *Runner) doRemove(ctx context.Context, id int64) int {
	if err := r.Client.Remove(ctx, id); err != nil {
		return r.apiError("rm", err)
	}
	r.ok("removed")
	return 0
}

func (r *Runner) parseID(cmd, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		r.fail(cmd + ": not a todo id: " + raw)
		return 0, false
	}
	return id, true
}

// apiError reports a client failure with a hint where one helps.
func (r *Runner) apiError(cmd string, err error) int {
	r.fail(cmd + ": " + err.Error())
	switch {
	case errors.Is(err, todos.ErrTokenAcquisition):
		fmt.Fprintln(r.Err, mutedStyle.Render("Hint: run `dolist login <token>` with a valid access token"))
	case todos.IsNotFound(err):
		fmt.Fprintln(r.Err, mutedStyle.Render("Hint: run `dolist ls` to see valid ids"))
	case errors.Is(err, todos.ErrTimeout):
		fmt.Fprintln(r.Err, mutedStyle.Render("Hint: raise DOLIST_API_TIMEOUT or check the API"))
	}
	return 1
}

func stats(items []todos.Todo) (done, pending int) {
	for _, it := range items {
		if it.Completed {
			done++
		} else {
			pending++
		}
	}
	return
}

func flatLines(items []todos.Todo) []string {
	if len(items) == 0 {
		return []string{mutedStyle.Render("no todos")}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		id := mutedStyle.Render(fmt.Sprintf("%3d", it.ID))
		title := it.Title
		if len([]rune(title)) > 80 {
			title = string([]rune(title)[:77]) + "..."
		}
		box := pendingStyle.Render(boxUnchecked)
		if it.Completed {
			box, title = successStyle.Render(boxChecked), doneStyle.Render(title)
		}
		out = append(out, fmt.Sprintf("%s %s %s", id, box, title))
	}
	return out
}

func groupLines(items []todos.Todo) []string {
	var pend, done []todos.Todo
	for _, it := range items {
		if it.Completed {
			done = append(done, it)
		} else {
			pend = append(pend, it)
		}
	}
	section := func(name string, list []todos.Todo) []string {
		lines := []string{accentStyle.Render(name)}
		if len(list) == 0 {
			return append(lines, mutedStyle.Render("(none)"))
		}
		return append(lines, flatLines(list)...)
	}
	lines := section("Pending", pend)
	lines = append(lines, "")
	return append(lines, section("Done", done)...)
}
