package exec

import "strings"

// Category is a coarse classification of a shell command's effect.
type Category string

const (
	CategoryReadOnly    Category = "read-only"
	CategoryWrite       Category = "write"
	CategoryDangerous   Category = "dangerous"
	CategoryInteractive Category = "interactive"
	CategoryUnknown     Category = "unknown"
)

// Classification is the result of heuristically classifying a command.
// Plane.Invoke does not consult it: exec authorization depends only on the
// allowlist match and the security/ask policy.
type Classification struct {
	Category    Category
	IsDangerous bool
	IsReadOnly  bool
	Warnings    []string
}

var readOnlyPrograms = map[string]bool{
	"cat": true, "ls": true, "head": true, "tail": true, "grep": true,
	"find": true, "stat": true, "file": true, "wc": true, "diff": true,
	"echo": true, "pwd": true, "whoami": true, "date": true, "uname": true,
	"env": true, "ps": true, "df": true, "du": true, "which": true,
	"git": true, // further refined below: only read-only git subcommands
}

var readOnlyGitVerbs = map[string]bool{
	"status": true, "log": true, "diff": true, "show": true, "branch": true, "remote": true,
}

var dangerousPrograms = map[string]bool{
	"dd": true, "mkfs": true, "shutdown": true, "reboot": true, "kill": true, "killall": true,
}

var dangerousFlags = []string{"--force", "-f", "--grace-period=0", "--no-preserve-root"}

var interactiveFlags = []string{"-i", "--interactive", "-it"}

// Classify heuristically classifies parsed. It is a standalone helper: an
// allowlist miss under ask=on-miss always asks, whatever the category.
func Classify(parsed *ParsedCommand) Classification {
	c := Classification{Category: CategoryUnknown}

	if parsed.Program == "rm" && hasAny(parsed.Args, "-rf", "-fr", "-r", "-R", "--recursive") {
		c.Category = CategoryDangerous
		c.IsDangerous = true
		c.Warnings = append(c.Warnings, "recursive file deletion")
		return c
	}

	if dangerousPrograms[parsed.Program] {
		c.Category = CategoryDangerous
		c.IsDangerous = true
		c.Warnings = append(c.Warnings, "dangerous program: "+parsed.Program)
		return c
	}

	for _, flag := range dangerousFlags {
		if hasAny(parsed.Args, flag) {
			c.Category = CategoryDangerous
			c.IsDangerous = true
			c.Warnings = append(c.Warnings, "dangerous flag: "+flag)
			return c
		}
	}

	for _, flag := range interactiveFlags {
		if hasAny(parsed.Args, flag) {
			c.Category = CategoryInteractive
			c.Warnings = append(c.Warnings, "interactive mode not supported over exec plane")
			return c
		}
	}

	if parsed.Program == "git" && len(parsed.Args) > 0 && readOnlyGitVerbs[parsed.Args[0]] {
		c.Category = CategoryReadOnly
		c.IsReadOnly = true
		return c
	}

	if readOnlyPrograms[parsed.Program] && parsed.Program != "git" {
		c.Category = CategoryReadOnly
		c.IsReadOnly = true
		return c
	}

	if parsed.HasRedirect || parsed.IsPiped {
		c.Category = CategoryWrite
		return c
	}

	c.Category = CategoryWrite
	return c
}

func hasAny(args []string, needles ...string) bool {
	for _, a := range args {
		for _, n := range needles {
			if strings.EqualFold(a, n) || strings.HasPrefix(a, n+"=") {
				return true
			}
		}
	}
	return false
}
