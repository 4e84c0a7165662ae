package metrics

import (
	"strings"
	"unicode"
)

// errorLabels names the failures a browser session can raise, keyed by
// package-qualified type name without the pointer star.
var errorLabels = map[string]string{
	"engine.StepError":              "Step failed",
	"engine.ScriptError":            "Script aborted",
	"engine.panicError":             "Step panicked",
	"condition.TimeoutError":        "Condition timed out",
	"script.AssertionError":         "Assertion failed",
	"script.CompileError":           "Script does not compile",
	"context.deadlineExceededError": "Step deadline exceeded",
	"url.Error":                     "Page request failed",
	"net.OpError":                   "Page request failed",
	"errors.errorString":            "Error",
	"fmt.wrapError":                 "Error",
}

// ErrorLabel turns a %T type name recorded by the collector into a label
// for reports. Unknown types are split into words and tagged with their
// package, so "*foo.TargetCrashed" reads "Target crashed (foo)".
func ErrorLabel(typeName string) string {
	name := strings.TrimPrefix(strings.TrimSpace(typeName), "*")
	if name == "" {
		return "Unknown error"
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if label, ok := errorLabels[name]; ok {
		return label
	}

	pkg, typ, found := strings.Cut(name, ".")
	if !found {
		pkg, typ = "", name
	}
	switch pkg {
	case "chromedp", "cdproto":
		return "Browser error"
	case "", "main", "errors", "fmt":
		return splitWords(typ)
	}
	return splitWords(typ) + " (" + pkg + ")"
}

// splitWords breaks a Go identifier at case changes and digits, keeping
// acronyms such as HTTP whole, then sentence-cases the result.
func splitWords(ident string) string {
	runes := []rune(ident)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && boundary(runes, i) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	words := strings.Fields(b.String())
	for i, w := range words {
		switch {
		case isAcronym(w):
		case i == 0:
			words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
		default:
			words[i] = strings.ToLower(w)
		}
	}
	return strings.Join(words, " ")
}

func boundary(runes []rune, i int) bool {
	prev, r := runes[i-1], runes[i]
	switch {
	case unicode.IsDigit(r):
		return !unicode.IsDigit(prev)
	case !unicode.IsUpper(r):
		return false
	case unicode.IsLower(prev) || unicode.IsDigit(prev):
		return true
	}
	// end of an acronym: "HTTPError" splits before the E
	return unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
}

func isAcronym(w string) bool {
	letters := 0
	for _, r := range w {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters > 1
}
