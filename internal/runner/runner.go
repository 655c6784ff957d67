// Package runner executes an agent's expanded command through the
// shell and streams its terminal output into the run handle.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/lightangel1412/reconness/internal/model"
	"github.com/lightangel1412/reconness/internal/registry"
)

// Context carries the values substituted into a command template.
type Context struct {
	Target    string
	Subdomain string
}

var placeholderRx = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Expand substitutes {{target}} and {{subdomain}} placeholders.
// {{domain}} is accepted as an alias of {{target}}. Unknown
// placeholders, or {{subdomain}} without a subdomain in scope, are an
// error.
func Expand(command string, tc Context) (string, error) {
	var unresolved []string
	expanded := placeholderRx.ReplaceAllStringFunc(command, func(m string) string {
		name := strings.ToLower(strings.Trim(m, "{} \t"))
		switch name {
		case "target", "domain":
			if tc.Target == "" {
				unresolved = append(unresolved, name)
				return m
			}
			return tc.Target
		case "subdomain":
			if tc.Subdomain == "" {
				unresolved = append(unresolved, name)
				return m
			}
			return tc.Subdomain
		default:
			unresolved = append(unresolved, name)
			return m
		}
	})
	if len(unresolved) > 0 {
		return "", fmt.Errorf("command template: unresolved placeholders: %s",
			strings.Join(unresolved, ", "))
	}
	return expanded, nil
}

// Runner runs commands through a shell, so agents may use pipes and
// redirections the way they do on an operator's terminal.
type Runner struct {
	shell string
}

func New() *Runner {
	return &Runner{shell: "sh"}
}

func (r *Runner) WithShell(shell string) *Runner {
	return &Runner{shell: shell}
}

// Execute expands the command template and runs it, appending stdout
// and stderr lines to h in emission order. It blocks until the process
// exits and is the engine's only suspension point. The returned status
// is terminal:
//
//   - StatusCancelled when ctx was cancelled; partial output is kept
//   - StatusFailed on a malformed template, launch failure or abnormal
//     exit; partial output is kept
//   - StatusSuccess otherwise
//
// Cancellation kills the spawned process group so pipeline children
// release the output pipe promptly. On platforms without process
// groups only the shell itself is killed and Execute may keep reading
// until the pipeline's children exit on their own.
//
// The handle is sealed before Execute returns.
func (r *Runner) Execute(ctx context.Context, h *registry.Handle, command string, tc Context) model.RunStatus {
	defer h.Seal()

	expanded, err := Expand(command, tc)
	if err != nil {
		slog.ErrorContext(ctx, "building agent command", "error", err)
		return model.StatusFailed
	}

	cmd := exec.CommandContext(ctx, r.shell, "-c", expanded)
	configureProcessGroup(cmd)

	// one pipe for both streams keeps the interleaving the process produced
	pr, pw, err := os.Pipe()
	if err != nil {
		slog.ErrorContext(ctx, "creating output pipe", "error", err)
		return model.StatusFailed
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	slog.DebugContext(ctx, "starting agent command", "command", expanded)
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		slog.ErrorContext(ctx, "starting agent command", "error", err)
		return model.StatusFailed
	}
	_ = pw.Close() // child keeps its own copy

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		h.Append(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		slog.WarnContext(ctx, "reading agent output", "error", err)
	}
	_ = pr.Close()

	err = cmd.Wait()
	switch {
	case ctx.Err() != nil:
		slog.InfoContext(ctx, "agent command cancelled")
		return model.StatusCancelled
	case err != nil:
		slog.WarnContext(ctx, "agent command failed", "error", err)
		return model.StatusFailed
	default:
		return model.StatusSuccess
	}
}
