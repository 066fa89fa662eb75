// Package exec implements the exec plane: host resolution, policy
// evaluation, command classification/allowlisting, the approval protocol,
// and output capping. Adapted from pkg/ai/safety (parser.go, classifier.go)
// and pkg/web/access_request.go, crossed with the buffered-channel
// single-resolution approval pattern from other_examples' KafClaw
// internal/approval/manager.go.
package exec

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ParsedCommand is the resolved shape of a shell command, used for
// allowlist glob matching against the binary and for read-only/write
// classification heuristics.
type ParsedCommand struct {
	Program     string
	Args        []string
	IsPiped     bool
	IsChained   bool
	HasRedirect bool
	RawCommand  string
	ParseError  error
}

// ParseCommand parses cmd via mvdan.cc/sh/v3's AST, falling back to naive
// whitespace splitting if the shell grammar rejects it (e.g. a non-POSIX
// fragment some channel plugins forward verbatim).
func ParseCommand(cmd string) *ParsedCommand {
	result := &ParsedCommand{RawCommand: cmd}

	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(cmd), "")
	if err != nil {
		result.ParseError = err
		result.parseSimple(cmd)
		return result
	}

	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			result.parseCallExpr(n)
		case *syntax.BinaryCmd:
			switch n.Op {
			case syntax.Pipe:
				result.IsPiped = true
			case syntax.AndStmt, syntax.OrStmt:
				result.IsChained = true
			}
		case *syntax.Redirect:
			result.HasRedirect = true
		}
		return true
	})
	return result
}

func (p *ParsedCommand) parseCallExpr(expr *syntax.CallExpr) {
	if len(expr.Args) == 0 || p.Program != "" {
		return // keep only the first call in a pipeline/chain as "the" program
	}
	p.Program = wordToString(expr.Args[0])
	for i := 1; i < len(expr.Args); i++ {
		p.Args = append(p.Args, wordToString(expr.Args[i]))
	}
}

func (p *ParsedCommand) parseSimple(cmd string) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}
	p.Program = parts[0]
	if len(parts) > 1 {
		p.Args = parts[1:]
	}
	p.IsPiped = strings.Contains(cmd, "|")
	p.IsChained = strings.Contains(cmd, "&&") || strings.Contains(cmd, "||")
	p.HasRedirect = strings.Contains(cmd, ">") || strings.Contains(cmd, "<")
}

func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$")
			sb.WriteString(p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$(...)")
		}
	}
	return sb.String()
}
