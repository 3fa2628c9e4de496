// Package invoker runs the external CLI tool that owns the conversation
// logs. This system never interprets the tool's output beyond extracting
// the session id it wrote to; the log growth itself is observed by the
// watcher.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"

	"golang.org/x/sync/semaphore"

	"github.com/user/sessionrelay/internal/types"
)

// CLI invokes the configured binary once per request. A weighted semaphore
// caps how many tool processes run at once across all sessions; per-session
// exclusion is the lock manager's job and is enforced by the caller.
type CLI struct {
	binary string
	args   []string
	sem    *semaphore.Weighted
}

// New creates a CLI invoker allowing up to maxConcurrent simultaneous
// processes.
func New(binary string, args []string, maxConcurrent int64) *CLI {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &CLI{
		binary: binary,
		args:   args,
		sem:    semaphore.NewWeighted(maxConcurrent),
	}
}

// Invoke runs the tool with the given prompt. An empty sessionID starts a
// new conversation; otherwise the tool resumes the session. Returns the
// session id the tool reports having written to, which is the id to watch
// for log growth. Invocations can run for minutes; ctx cancellation kills
// the process.
func (c *CLI) Invoke(ctx context.Context, sessionID types.SessionID, prompt, workingDir string) (types.SessionID, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire invoker slot: %w", err)
	}
	defer c.sem.Release(1)

	args := append([]string(nil), c.args...)
	if sessionID != "" {
		args = append(args, "--resume", string(sessionID))
	}
	args = append(args, prompt)

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Dir = workingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Info("invoking external tool", "binary", c.binary, "session_id", sessionID, "working_dir", workingDir)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run %s: %w: %s", c.binary, err, truncateForLog(stderr.String()))
	}

	if id, ok := sessionIDFromOutput(stdout.Bytes()); ok {
		return id, nil
	}
	// Tool emitted no parseable id; the resumed session is unchanged.
	return sessionID, nil
}

// sessionIDFromOutput pulls the session id out of the tool's JSON result.
func sessionIDFromOutput(out []byte) (types.SessionID, bool) {
	var result struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(out), &result); err != nil {
		return "", false
	}
	return types.ParseSessionID(result.SessionID)
}

func truncateForLog(s string) string {
	const max = 500
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
