package tools

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const commandOutputLimit = 10000

var denyPatterns = []string{
	"rm -rf ", "rm -fr ", "rm -r ", "rm -f /",
	"mkfs", "dd if=", "> /dev/sd",
	"shutdown", "reboot", "poweroff",
	":(){ :|:& };:",
}

// RunCommandTool executes a shell command in the sandbox root, streaming
// stdout/stderr fragments through the context's ChunkWriter as they arrive.
type RunCommandTool struct {
	sandbox *Sandbox
	timeout time.Duration
}

// NewRunCommandTool creates a run_command tool with a default timeout.
func NewRunCommandTool(sandbox *Sandbox, timeout time.Duration) *RunCommandTool {
	return &RunCommandTool{sandbox: sandbox, timeout: timeout}
}

func (t *RunCommandTool) Name() string { return "run_command" }

func (t *RunCommandTool) Description() string {
	return "Execute a shell command in the workspace and return its output. Use with caution."
}

func (t *RunCommandTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"command": map[string]any{
			"type":        "string",
			"description": "The shell command to execute",
		},
		"timeout_s": map[string]any{
			"type":        "integer",
			"description": "Optional timeout in seconds",
		},
	}, "command")
}

func (t *RunCommandTool) Execute(ctx context.Context, params map[string]any) string {
	command, errText := stringParam(params, "command")
	if errText != "" {
		return errText
	}
	if guard := guardCommand(command); guard != "" {
		return guard
	}

	timeout := t.timeout
	if raw, ok := params["timeout_s"].(float64); ok && raw > 0 {
		timeout = time.Duration(raw) * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-c", command)
	cmd.Dir = t.sandbox.Root()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Sprintf("Error executing command: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Sprintf("Error executing command: %v", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Sprintf("Error executing command: %v", err)
	}

	writer := ChunkWriterFrom(ctx)
	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go drainPipe(&wg, stdout, "stdout", &outBuf, writer)
	go drainPipe(&wg, stderr, "stderr", &errBuf, writer)
	wg.Wait()

	waitErr := cmd.Wait()
	if runCtx.Err() == context.DeadlineExceeded {
		if writer != nil {
			writer("stderr", fmt.Sprintf("\n[timeout] killed after %s\n", timeout))
		}
		return fmt.Sprintf("Error: Command timed out after %d seconds", int(timeout.Seconds()))
	}

	var parts []string
	if outBuf.Len() > 0 {
		parts = append(parts, outBuf.String())
	}
	if strings.TrimSpace(errBuf.String()) != "" {
		parts = append(parts, "STDERR:\n"+errBuf.String())
	}

	exitCode := 0
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if waitErr != nil {
		return fmt.Sprintf("Error executing command: %v", waitErr)
	}
	if exitCode != 0 {
		parts = append(parts, fmt.Sprintf("\nExit code: %d", exitCode))
	}

	result := "(no output)"
	if len(parts) > 0 {
		result = strings.Join(parts, "\n")
	}
	if len(result) > commandOutputLimit {
		result = result[:commandOutputLimit] + fmt.Sprintf("\n... (truncated, %d more chars)", len(result)-commandOutputLimit)
	}
	if exitCode != 0 {
		return "Error: " + result
	}
	return result
}

// drainPipe copies a pipe into buf while forwarding each fragment to the
// stream writer. Streaming is best-effort, the command result must still
// complete even if the writer fails.
func drainPipe(wg *sync.WaitGroup, pipe io.Reader, stream string, buf *strings.Builder, writer ChunkWriter) {
	defer wg.Done()
	chunk := make([]byte, 1024)
	for {
		n, err := pipe.Read(chunk)
		if n > 0 {
			text := string(chunk[:n])
			buf.WriteString(text)
			if writer != nil {
				writer(stream, text)
			}
		}
		if err != nil {
			return
		}
	}
}

// guardCommand blocks the obviously destructive patterns. Returns the tool
// error string, empty when the command is allowed.
func guardCommand(command string) string {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, pattern := range denyPatterns {
		if strings.Contains(lower, pattern) {
			return "Error: Command blocked by safety guard (dangerous pattern detected)"
		}
	}
	return ""
}
