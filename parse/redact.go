package parse

import (
	"bytes"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// safeVars are environment variables whose values are fine to log.
var safeVars = map[string]bool{
	"HOME": true, "USER": true, "PWD": true, "OLDPWD": true,
	"SHELL": true, "PATH": true, "LANG": true, "TERM": true,
	"HOSTNAME": true, "LOGNAME": true, "TMPDIR": true,
	"AZURE_CONFIG_DIR": true, "AZURE_DEFAULTS_GROUP": true, "AZURE_DEFAULTS_LOCATION": true,
}

// specialParams are shell special parameters that should not be redacted.
var specialParams = map[string]bool{
	"?": true, "!": true, "#": true, "@": true, "*": true,
	"-": true, "$": true, "_": true,
	"0": true, "1": true, "2": true, "3": true, "4": true,
	"5": true, "6": true, "7": true, "8": true, "9": true,
}

// secretFlags are az flags whose values are credentials.
var secretFlags = map[string]bool{
	"-p": true, "--password": true, "--secret": true, "--client-secret": true,
	"--token": true, "--sas-token": true, "--connection-string": true,
	"--account-key": true, "--admin-password": true,
}

// IsSecretFlag reports whether values of flag should never be logged.
func IsSecretFlag(flag string) bool {
	if secretFlags[flag] {
		return true
	}
	return strings.HasPrefix(flag, "--") && (strings.HasSuffix(flag, "-key") || strings.HasSuffix(flag, "-password"))
}

// Redact masks credential flag values and sensitive variable expansions in an
// az command line so it can be logged. Lines that do not parse as shell are
// handled by a pattern-based fallback.
func Redact(line string) string {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(true))
	prog, err := parser.Parse(strings.NewReader(line), "")
	if err != nil {
		return regexRedact(line)
	}

	syntax.Walk(prog, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			redactCallArgs(n.Args)
		case *syntax.ParamExp:
			if n.Param != nil && !safeVars[n.Param.Value] && !specialParams[n.Param.Value] {
				n.Param.Value = "REDACTED"
			}
		case *syntax.Assign:
			if n.Name != nil && !safeVars[n.Name.Value] && n.Value != nil {
				n.Value.Parts = []syntax.WordPart{&syntax.Lit{Value: "***"}}
			}
		}
		return true
	})

	var buf bytes.Buffer
	printer := syntax.NewPrinter(syntax.Indent(0))
	if err := printer.Print(&buf, prog); err != nil {
		return regexRedact(line)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func redactCallArgs(args []*syntax.Word) {
	for i, w := range args {
		lit := w.Lit()
		if name, _, ok := strings.Cut(lit, "="); ok && IsSecretFlag(name) {
			w.Parts = []syntax.WordPart{&syntax.Lit{Value: name + "=***"}}
			continue
		}
		if IsSecretFlag(lit) && i+1 < len(args) {
			next := args[i+1]
			if strings.HasPrefix(next.Lit(), "-") {
				continue
			}
			next.Parts = []syntax.WordPart{&syntax.Lit{Value: "***"}}
		}
	}
}

// Quote renders value as a single shell word, quoting only when needed.
func Quote(value string) string {
	if value != "" && !strings.ContainsAny(value, " \t\"'$`\\|&;<>()*?[]#~") {
		return value
	}
	q, err := syntax.Quote(value, syntax.LangBash)
	if err != nil {
		return `"` + value + `"`
	}
	return q
}

var (
	reBraceVar   = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	reSimpleVar  = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	reSecretFlag = regexp.MustCompile(`(--?[A-Za-z][A-Za-z0-9-]*)(=|\s+)("[^"]*"|'[^']*'|[^\s"'-][^\s]*)`)
)

// regexRedact is a fallback for lines that fail AST parsing.
func regexRedact(line string) string {
	line = reBraceVar.ReplaceAllStringFunc(line, func(m string) string {
		name := reBraceVar.FindStringSubmatch(m)[1]
		if safeVars[name] || specialParams[name] {
			return m
		}
		return "${REDACTED}"
	})

	line = reSimpleVar.ReplaceAllStringFunc(line, func(m string) string {
		name := reSimpleVar.FindStringSubmatch(m)[1]
		if name == "REDACTED" || safeVars[name] || specialParams[name] {
			return m
		}
		return "$REDACTED"
	})

	return reSecretFlag.ReplaceAllStringFunc(line, func(m string) string {
		parts := reSecretFlag.FindStringSubmatch(m)
		if !IsSecretFlag(parts[1]) {
			return m
		}
		return parts[1] + parts[2] + "***"
	})
}
