package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// Invocation is one binding of a stage template against concrete inputs: the
// unit handed to a Body. The body contract is deliberately narrow: consume the
// bound input files, deposit the declared outputs under WorkDir, return an
// error on failure. The engine never looks inside.
type Invocation struct {
	// Stage is the owning template's name.
	Stage string
	// Key is the item identity this instance was spawned for; collect
	// instances use the stage name.
	Key string
	// WorkDir is the instance's private working directory.
	WorkDir string
	// Inputs maps channel names to the items bound to this instance. Stream
	// and broadcast bindings carry exactly one item; collect bindings carry
	// everything the channel produced.
	Inputs map[string][]Item
	// Outputs are the declared outputs with "{key}" already resolved.
	Outputs []OutputSpec
}

// OutputPath returns the absolute path of the declared output for a channel.
func (inv *Invocation) OutputPath(channel string) (string, error) {
	for _, out := range inv.Outputs {
		if out.Channel == channel {
			return filepath.Join(inv.WorkDir, out.Path), nil
		}
	}
	return "", fmt.Errorf("stage %s declares no output for channel %q", inv.Stage, channel)
}

// InputFiles returns the files of every item bound to the named channel.
func (inv *Invocation) InputFiles(channel string) []string {
	var files []string
	for _, item := range inv.Inputs[channel] {
		files = append(files, item.Files...)
	}
	return files
}

// Body executes one stage instance. Implementations must be safe for
// concurrent invocations and must honor ctx cancellation.
type Body interface {
	Run(ctx context.Context, inv *Invocation) error
	// Fingerprint contributes the body's definition to the cache key, so
	// changing a command line or transform version invalidates prior runs.
	Fingerprint() string
}

// ExecBody runs an external command inside the invocation working directory.
// Argv entries support placeholders:
//
//	{key}          the instance's item key
//	{in.NAME}     space-joined input files bound to channel NAME
//	{out.NAME}    the declared output path for channel NAME
type ExecBody struct {
	Argv []string
}

// Run resolves placeholders and executes the command, capturing diagnostics.
func (b *ExecBody) Run(ctx context.Context, inv *Invocation) error {
	if len(b.Argv) == 0 {
		return &StageExecutionError{Stage: inv.Stage, Key: inv.Key, Reason: "empty command"}
	}

	argv := make([]string, len(b.Argv))
	for i, arg := range b.Argv {
		resolved, err := resolvePlaceholders(arg, inv)
		if err != nil {
			return &StageExecutionError{Stage: inv.Stage, Key: inv.Key, Reason: err.Error()}
		}
		argv[i] = resolved
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = inv.WorkDir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return &StageExecutionError{
			Stage:       inv.Stage,
			Key:         inv.Key,
			Reason:      fmt.Sprintf("command %q: %v", argv[0], err),
			Diagnostics: tail(output.String(), 4096),
			Err:         err,
		}
	}
	return nil
}

// Fingerprint is the resolved-free command line; two templates with the same
// argv template share cache entries only through differing inputs.
func (b *ExecBody) Fingerprint() string {
	return "exec:" + strings.Join(b.Argv, "\x00")
}

// placeholderPattern matches {in.NAME}, {in.NAME?} and {out.NAME} references
// in argv. The trailing ? marks an input that may be unbound, resolving to an
// empty string instead of an error.
var placeholderPattern = regexp.MustCompile(`\{(in|out)\.([A-Za-z0-9_]+)(\?)?\}`)

func resolvePlaceholders(arg string, inv *Invocation) (string, error) {
	result := strings.ReplaceAll(arg, "{key}", inv.Key)

	var lastErr error
	result = placeholderPattern.ReplaceAllStringFunc(result, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		kind, name, optional := groups[1], groups[2], groups[3] == "?"
		switch kind {
		case "in":
			files := inv.InputFiles(name)
			if len(files) == 0 {
				if optional {
					return ""
				}
				lastErr = fmt.Errorf("placeholder %s: no input bound to channel %q", match, name)
				return match
			}
			return strings.Join(files, " ")
		default:
			path, err := inv.OutputPath(name)
			if err != nil {
				lastErr = err
				return match
			}
			return path
		}
	})
	if lastErr != nil {
		return "", lastErr
	}
	return result, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// TransformBody runs an in-process pure transform. Version participates in
// the cache key the way a command line does for ExecBody.
type TransformBody struct {
	Name    string
	Version string
	Fn      func(ctx context.Context, inv *Invocation) error
}

func (b *TransformBody) Run(ctx context.Context, inv *Invocation) error {
	if err := b.Fn(ctx, inv); err != nil {
		var stageErr *StageExecutionError
		if ok := asStageError(err, &stageErr); ok {
			return err
		}
		return &StageExecutionError{Stage: inv.Stage, Key: inv.Key, Reason: err.Error(), Err: err}
	}
	return nil
}

func (b *TransformBody) Fingerprint() string {
	return "transform:" + b.Name + "@" + b.Version
}
