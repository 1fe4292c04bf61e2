// Package snippet implements the snippet-test protocol: source files whose
// leading comment lines declare how far through the pipeline to run and
// what should come out.
//
//	-- action: run
//	-- outcome: success
//	-- expect: 13
//	3 + 2 * 5
//
// Header keys use the "-- key: value" comment form, or "# key: value" for
// snippets kept under a test subfolder.
package snippet

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/vrtbl/passerine/core/diag"
	"github.com/vrtbl/passerine/core/value"
	"github.com/vrtbl/passerine/runtime"
)

// Actions name the pipeline stage a snippet drives to. hoist is accepted
// as an alias of compile: capture hoisting is a compilation detail with no
// separately observable output.
var actions = map[string]bool{
	"lex":     true,
	"parse":   true,
	"desugar": true,
	"hoist":   true,
	"compile": true,
	"run":     true,
}

// Outcomes classify how the stage is expected to end: success, a
// compile-stage diagnostic, or a runtime trace.
var outcomes = map[string]bool{
	"success": true,
	"syntax":  true,
	"trace":   true,
}

// Case is one parsed snippet.
type Case struct {
	Name    string
	Action  string
	Outcome string
	Expect  string // expected Repr of the final value; only for action: run
	Source  string
}

// ParseCase splits the header lines off a snippet source.
func ParseCase(name, source string) (*Case, error) {
	c := &Case{
		Name:    name,
		Action:  "run",
		Outcome: "success",
	}

	// Header lines are consumed, not executed: the "#" form is not valid
	// surface syntax, and stripping keeps snippet spans stable either way.
	lines := strings.Split(source, "\n")
	consumed := 0
	for _, line := range lines {
		key, val, ok := headerLine(line)
		if !ok {
			break
		}
		consumed++
		switch key {
		case "action":
			if !actions[val] {
				return nil, fmt.Errorf("snippet %s: unknown action %q", name, val)
			}
			c.Action = val
		case "outcome":
			if !outcomes[val] {
				return nil, fmt.Errorf("snippet %s: unknown outcome %q", name, val)
			}
			c.Outcome = val
		case "expect":
			c.Expect = val
		}
	}
	c.Source = strings.Join(lines[consumed:], "\n")

	if c.Expect != "" && c.Action != "run" {
		return nil, fmt.Errorf("snippet %s: expect needs action: run", name)
	}
	return c, nil
}

// headerLine reads one "-- key: value" or "# key: value" header.
func headerLine(line string) (key, val string, ok bool) {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "--"):
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "--"))
	case strings.HasPrefix(trimmed, "#"):
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
	default:
		return "", "", false
	}

	key, val, found := strings.Cut(trimmed, ":")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	val = strings.TrimSpace(val)
	if key != "action" && key != "outcome" && key != "expect" {
		// An ordinary comment, not a header; the header block is over.
		return "", "", false
	}
	return key, val, true
}

// Run executes the snippet through its stage and checks the outcome.
// A nil error means the snippet passed.
func (c *Case) Run() error {
	result, err := c.execute()

	switch c.Outcome {
	case "success":
		if err != nil {
			return fmt.Errorf("snippet %s: expected success, got %s", c.Name, err)
		}
	case "syntax":
		if err == nil {
			return fmt.Errorf("snippet %s: expected a compile-stage diagnostic, got success",
				c.Name)
		}
		if err.Kind != diag.Lex && err.Kind != diag.Syntax && err.Kind != diag.Resolution {
			return fmt.Errorf("snippet %s: expected a compile-stage diagnostic, got %s",
				c.Name, err)
		}
	case "trace":
		if err == nil {
			return fmt.Errorf("snippet %s: expected a runtime trace, got success", c.Name)
		}
		if err.Kind == diag.Lex || err.Kind == diag.Syntax || err.Kind == diag.Resolution {
			return fmt.Errorf("snippet %s: expected a runtime trace, got %s", c.Name, err)
		}
	}

	if c.Expect != "" && err == nil {
		if diff := cmp.Diff(c.Expect, result); diff != "" {
			return fmt.Errorf("snippet %s: result mismatch (-want +got):\n%s", c.Name, diff)
		}
	}
	return nil
}

// execute drives the pipeline to the snippet's stage, returning the
// printed result for action: run.
func (c *Case) execute() (string, *diag.Diagnostic) {
	opts := []runtime.Opt{runtime.WithSourceName(c.Name)}

	switch c.Action {
	case "lex":
		_, err := runtime.Lex(c.Source, opts...)
		return "", err
	case "parse":
		_, err := runtime.Parse(c.Source, opts...)
		return "", err
	case "desugar":
		_, err := runtime.Desugar(c.Source, opts...)
		return "", err
	case "hoist", "compile":
		_, err := runtime.Compile(c.Source, opts...)
		return "", err
	default: // run
		result, err := runtime.Run(c.Source, opts...)
		if err != nil {
			return "", err
		}
		return value.Repr(result), nil
	}
}

// LoadDir reads every .pn snippet under dir, sorted by name.
func LoadDir(dir string) ([]*Case, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading snippet dir: %w", err)
	}

	var cases []*Case
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pn") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading snippet %s: %w", entry.Name(), err)
		}
		c, err := ParseCase(strings.TrimSuffix(entry.Name(), ".pn"), string(data))
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}

	sort.Slice(cases, func(i, j int) bool { return cases[i].Name < cases[j].Name })
	return cases, nil
}
