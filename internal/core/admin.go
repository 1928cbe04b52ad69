package core

import (
	"fmt"
	"strings"
)

// AdminPrefix is the first argument of every moderation command.
const AdminPrefix = "a"

// Command error codes.
const (
	CmdErrUnknownCommand    = "unknown-command"
	CmdErrUnknownSubcommand = "unknown-subcommand"
	CmdErrMissingArgument   = "missing-argument"
)

// CommandError is returned by ParseAdminCommand.
type CommandError struct {
	Code       string
	Subcommand string
	Message    string
}

func (e *CommandError) Error() string {
	return e.Message
}

// AdminCommand is a parsed moderation command. The set of implementations is
// closed to this package.
type AdminCommand interface {
	Name() string
	adminCommand()
}

type (
	AuthCmd        struct{ Key string }
	DisauthCmd     struct{}
	StatusCmd      struct{ Target string }
	BanCmd         struct{ Target string }
	UnbanCmd       struct{ Target string }
	ShadowbanCmd   struct{ Target string }
	ShadowunbanCmd struct{ Target string }
	WhitelistCmd   struct{ Target string }
	BlacklistCmd   struct{ Target string }
	DisconnectCmd  struct{ Target string }
	AddLoginKeyCmd struct{ Key string }
	DelLoginKeyCmd struct{ Key string }
	HelpCmd        struct{}
	LockCmd        struct{ Channel, Password string }
	UnlockCmd      struct{ Channel string }
)

func (AuthCmd) Name() string        { return "auth" }
func (DisauthCmd) Name() string     { return "disauth" }
func (StatusCmd) Name() string      { return "status" }
func (BanCmd) Name() string         { return "ban" }
func (UnbanCmd) Name() string       { return "unban" }
func (ShadowbanCmd) Name() string   { return "shadowban" }
func (ShadowunbanCmd) Name() string { return "shadowunban" }
func (WhitelistCmd) Name() string   { return "whitelist" }
func (BlacklistCmd) Name() string   { return "blacklist" }
func (DisconnectCmd) Name() string  { return "disconnect" }
func (AddLoginKeyCmd) Name() string { return "addloginkey" }
func (DelLoginKeyCmd) Name() string { return "dellogkey" }
func (HelpCmd) Name() string        { return "help" }
func (LockCmd) Name() string        { return "lock" }
func (UnlockCmd) Name() string      { return "unlock" }

func (AuthCmd) adminCommand()        {}
func (DisauthCmd) adminCommand()     {}
func (StatusCmd) adminCommand()      {}
func (BanCmd) adminCommand()         {}
func (UnbanCmd) adminCommand()       {}
func (ShadowbanCmd) adminCommand()   {}
func (ShadowunbanCmd) adminCommand() {}
func (WhitelistCmd) adminCommand()   {}
func (BlacklistCmd) adminCommand()   {}
func (DisconnectCmd) adminCommand()  {}
func (AddLoginKeyCmd) adminCommand() {}
func (DelLoginKeyCmd) adminCommand() {}
func (HelpCmd) adminCommand()        {}
func (LockCmd) adminCommand()        {}
func (UnlockCmd) adminCommand()      {}

type subcommand struct {
	usage    string
	elevated bool
	minArgs  int
	build    func(args []string) AdminCommand
}

// subcommandOrder is the order used by help.
var subcommandOrder = []string{
	"auth", "disauth", "status", "ban", "unban", "shadowban", "shadowunban",
	"whitelist", "blacklist", "disconnect", "addloginkey", "dellogkey",
	"lock", "unlock", "help",
}

var subcommands = map[string]subcommand{
	"auth": {usage: "auth <key>", minArgs: 1, build: func(a []string) AdminCommand {
		return AuthCmd{Key: a[0]}
	}},
	"disauth": {usage: "disauth", build: func([]string) AdminCommand {
		return DisauthCmd{}
	}},
	"status": {usage: "status [target]", elevated: true, build: func(a []string) AdminCommand {
		if len(a) == 0 {
			return StatusCmd{}
		}
		return StatusCmd{Target: a[0]}
	}},
	"ban": {usage: "ban <target>", elevated: true, minArgs: 1, build: func(a []string) AdminCommand {
		return BanCmd{Target: a[0]}
	}},
	"unban": {usage: "unban <identity>", elevated: true, minArgs: 1, build: func(a []string) AdminCommand {
		return UnbanCmd{Target: a[0]}
	}},
	"shadowban": {usage: "shadowban <target>", elevated: true, minArgs: 1, build: func(a []string) AdminCommand {
		return ShadowbanCmd{Target: a[0]}
	}},
	"shadowunban": {usage: "shadowunban <target>", elevated: true, minArgs: 1, build: func(a []string) AdminCommand {
		return ShadowunbanCmd{Target: a[0]}
	}},
	"whitelist": {usage: "whitelist <target>", elevated: true, minArgs: 1, build: func(a []string) AdminCommand {
		return WhitelistCmd{Target: a[0]}
	}},
	"blacklist": {usage: "blacklist <target>", elevated: true, minArgs: 1, build: func(a []string) AdminCommand {
		return BlacklistCmd{Target: a[0]}
	}},
	"disconnect": {usage: "disconnect <target>", elevated: true, minArgs: 1, build: func(a []string) AdminCommand {
		return DisconnectCmd{Target: a[0]}
	}},
	"addloginkey": {usage: "addloginkey <key>", elevated: true, minArgs: 1, build: func(a []string) AdminCommand {
		return AddLoginKeyCmd{Key: a[0]}
	}},
	"dellogkey": {usage: "dellogkey <key>", elevated: true, minArgs: 1, build: func(a []string) AdminCommand {
		return DelLoginKeyCmd{Key: a[0]}
	}},
	"lock": {usage: "lock <channel> <password>", elevated: true, minArgs: 2, build: func(a []string) AdminCommand {
		return LockCmd{Channel: a[0], Password: a[1]}
	}},
	"unlock": {usage: "unlock <channel>", elevated: true, minArgs: 1, build: func(a []string) AdminCommand {
		return UnlockCmd{Channel: a[0]}
	}},
	"help": {usage: "help", elevated: true, build: func([]string) AdminCommand {
		return HelpCmd{}
	}},
}

// RequiresElevation reports whether the named subcommand needs the staff or
// admin flag. Unknown names report false.
func RequiresElevation(name string) bool {
	return subcommands[name].elevated
}

// ParseAdminCommand parses args such as ["a", "ban", "<id>"].
func ParseAdminCommand(args []string) (AdminCommand, error) {
	if len(args) == 0 || args[0] != AdminPrefix {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		return nil, &CommandError{Code: CmdErrUnknownCommand, Message: fmt.Sprintf("Unknown command: /%s", name)}
	}
	if len(args) < 2 {
		return nil, &CommandError{Code: CmdErrUnknownSubcommand, Message: "Missing subcommand. Try /a help."}
	}

	name := strings.ToLower(args[1])
	sub, ok := subcommands[name]
	if !ok {
		return nil, &CommandError{Code: CmdErrUnknownSubcommand, Message: fmt.Sprintf("Unknown subcommand: %s", args[1])}
	}
	rest := args[2:]
	if len(rest) < sub.minArgs {
		return nil, &CommandError{
			Code:       CmdErrMissingArgument,
			Subcommand: name,
			Message:    "Usage: /a " + sub.usage,
		}
	}
	return sub.build(rest), nil
}

func helpText() string {
	lines := make([]string, 0, len(subcommandOrder)+1)
	lines = append(lines, "Available commands:")
	for _, name := range subcommandOrder {
		lines = append(lines, "/a "+subcommands[name].usage)
	}
	return strings.Join(lines, "\n")
}
