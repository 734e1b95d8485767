package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/mediscan/internal/models"
)

// access decides who may run a command.
type access int

const (
	anyone access = iota
	signedIn
	needsPermission
)

type command struct {
	usage  string
	help   string
	access access
	perm   models.Permission
	run    func(a *App, ctx context.Context, args []string) error
}

var commands map[string]command

// Filled in init: the handlers themselves read the table.
func init() {
	commands = map[string]command{
		"help":       {usage: "help", help: "show available commands", access: anyone, run: (*App).cmdHelp},
		"login":      {usage: "login [email]", help: "sign in", access: anyone, run: (*App).cmdLogin},
		"reset":      {usage: "reset", help: "reset a forgotten password with email and phone", access: anyone, run: (*App).cmdReset},
		"logout":     {usage: "logout", help: "sign out", access: signedIn, run: (*App).cmdLogout},
		"analyze":    {usage: "analyze <image> [category]", help: "analyze an image", access: signedIn, run: (*App).cmdAnalyze},
		"save":       {usage: "save [patient-id]", help: "save the last analysis", access: signedIn, run: (*App).cmdSave},
		"list":       {usage: "list", help: "list visible scan records", access: signedIn, run: (*App).cmdList},
		"show":       {usage: "show <record-id>", help: "show a scan record", access: signedIn, run: (*App).cmdShow},
		"delete":     {usage: "delete <record-id>", help: "delete a scan record", access: signedIn, run: (*App).cmdDelete},
		"sync":       {usage: "sync", help: "reconcile with the remote store now", access: signedIn, run: (*App).cmdSync},
		"passwd":     {usage: "passwd", help: "change your password", access: signedIn, run: (*App).cmdPasswd},
		"profile":    {usage: "profile [edit]", help: "show or edit your profile", access: signedIn, run: (*App).cmdProfile},
		"stats":      {usage: "stats", help: "show database statistics", access: needsPermission, perm: models.PermManageDatabase, run: (*App).cmdStats},
		"export":     {usage: "export [file]", help: "export a full backup", access: needsPermission, perm: models.PermManageDatabase, run: (*App).cmdExport},
		"import":     {usage: "import <file>", help: "import a backup", access: needsPermission, perm: models.PermManageDatabase, run: (*App).cmdImport},
		"users":      {usage: "users", help: "list accounts", access: needsPermission, perm: models.PermManageUsers, run: (*App).cmdUsers},
		"adduser":    {usage: "adduser", help: "create an account", access: needsPermission, perm: models.PermManageUsers, run: (*App).cmdAddUser},
		"activate":   {usage: "activate <user-id>", help: "reactivate an account", access: needsPermission, perm: models.PermManageUsers, run: (*App).cmdActivate},
		"deactivate": {usage: "deactivate <user-id>", help: "soft-disable an account", access: needsPermission, perm: models.PermManageUsers, run: (*App).cmdDeactivate},
		"deluser":    {usage: "deluser <user-id>", help: "delete an account", access: needsPermission, perm: models.PermManageUsers, run: (*App).cmdDelUser},
	}
}

// repl reads lines until exit, end of input or cancellation. Cancellation is
// noticed between commands.
func (a *App) repl(ctx context.Context) {
	for ctx.Err() == nil {
		fmt.Fprintf(a.out, "mediscan %s> ", a.status())
		line, err := a.reader.ReadString('\n')
		if line != "" && !a.dispatch(ctx, line) {
			break
		}
		if err != nil {
			break
		}
	}
	fmt.Fprintln(a.out, "Bye!")
}

// dispatch runs one command line. It returns false when the loop should end.
func (a *App) dispatch(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	name, args := parts[0], parts[1:]

	switch name {
	case "exit", "quit":
		return false
	case "l":
		name = "list"
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintln(a.out, "Unknown command:", name)
		return true
	}
	if !a.allowed(cmd) {
		if _, signed := a.current(); !signed {
			fmt.Fprintln(a.out, "Please log in first")
		} else {
			fmt.Fprintln(a.out, "Permission denied")
		}
		return true
	}

	if err := cmd.run(a, ctx, args); err != nil {
		fmt.Fprintln(a.out, "Error:", err)
	}
	return true
}

func (a *App) allowed(cmd command) bool {
	if cmd.access == anyone {
		return true
	}
	u, ok := a.current()
	if !ok {
		return false
	}
	return cmd.access == signedIn || u.Can(cmd.perm)
}

func (a *App) status() string {
	u, ok := a.current()
	if !ok {
		return "(" + a.mode() + ")"
	}
	return fmt.Sprintf("(%s %s %s)", u.Email, u.Role, a.mode())
}

func (a *App) cmdHelp(_ context.Context, _ []string) error {
	names := make([]string, 0, len(commands))
	for name, cmd := range commands {
		if a.allowed(cmd) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	fmt.Fprintln(a.out, "Available commands:")
	for _, name := range names {
		fmt.Fprintf(a.out, "  %-28s %s\n", commands[name].usage, commands[name].help)
	}
	fmt.Fprintf(a.out, "  %-28s %s\n", "exit", "leave the program")
	return nil
}

func usageError(name string) error {
	return fmt.Errorf("usage: %s", commands[name].usage)
}
