package provider

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// CLIAdapter invokes one external actor CLI as a child process. Exit-code
// extraction mirrors fluxforge/agent/executor.go's
// exec.ExitError/syscall.WaitStatus pattern; everything else (prompt file,
// isolated home, sanitized env, activity-reset timeout, streaming parse,
// classification) is new per §4.3.
type CLIAdapter struct {
	Name       string
	BinaryPath string
	Template   string // default invocation template; see GetDefaultInvocationTemplate

	Models []string

	// CreditPatterns/RatePatterns/AuthPatterns/ModelNotFoundPatterns are
	// provider-specific substring matches checked against combined
	// stdout+stderr, in that priority order (§4.3 classifyResult).
	CreditPatterns        []string
	RatePatterns          []string
	AuthPatterns          []string
	ModelNotFoundPatterns []string
}

var _ Adapter = (*CLIAdapter)(nil)

func (a *CLIAdapter) ListModels() []string { return a.Models }

func (a *CLIAdapter) GetDefaultInvocationTemplate() string {
	if a.Template != "" {
		return a.Template
	}
	return "{cli} --model {model} --prompt-file {prompt_file}"
}

func (a *CLIAdapter) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(a.BinaryPath)
	return err == nil
}

// Invoke runs one child-process invocation. It never returns a non-nil
// error for an ordinary actor failure: all failures are reported inside the
// returned Result (§4.3).
func (a *CLIAdapter) Invoke(ctx context.Context, prompt string, opts InvokeOptions) (*Result, error) {
	pf, err := newPromptFile(prompt)
	if err != nil {
		return nil, err
	}
	defer pf.Close()

	realHome, _ := os.UserHomeDir()
	home, err := newIsolatedHome(realHome)
	if err != nil {
		return nil, err
	}
	defer home.Close()

	argv := a.buildArgv(opts, pf.path)
	if len(argv) == 0 {
		return nil, fmt.Errorf("provider: empty argv for %s", a.Name)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Cwd
	cmd.Env = buildEnvironment(home.path, map[string]string{
		"STEROIDS_MODEL":      opts.Model,
		"STEROIDS_MODEL_LIST": strings.Join(a.Models, ","),
	})

	activity := make(chan struct{}, 64)
	stdoutCollector := newCappedCollector(activity)
	stderrCollector := newCappedCollector(activity)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("provider: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("provider: stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("provider: start %s: %w", a.Name, err)
	}

	var sessionID string
	var tokenUsage *TokenUsage
	onLine := func(line string) {
		if !opts.StreamOutput {
			return
		}
		ev, ok := parseStreamLine(line)
		if !ok {
			return // malformed lines are ignored, per §4.3
		}
		if ev.SessionID != "" {
			sessionID = ev.SessionID
		}
		if ev.TokenUsage != nil {
			tokenUsage = ev.TokenUsage
		}
		if opts.OnActivity != nil {
			opts.OnActivity(ev)
		}
	}

	done := make(chan error, 1)
	go func() { stdoutCollector.consume(stdoutPipe, onLine) }()
	go func() { stderrCollector.consume(stderrPipe, onLine) }()
	go func() { done <- cmd.Wait() }()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	timedOut, waitErr := a.waitWithActivityTimeout(ctx, cmd, done, activity, timeout)

	duration := time.Since(start)
	result := &Result{
		Stdout:     stdoutCollector.String(),
		Stderr:     stderrCollector.String(),
		Duration:   duration,
		TimedOut:   timedOut,
		SessionID:  sessionID,
		TokenUsage: tokenUsage,
	}

	if timedOut {
		result.Success = false
		result.ExitCode = -1
		return result, nil
	}

	if waitErr != nil {
		result.Success = false
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				result.ExitCode = ws.ExitStatus()
			} else {
				result.ExitCode = 1
			}
		} else {
			result.ExitCode = 1
		}
		return result, nil
	}

	result.Success = true
	result.ExitCode = 0
	return result, nil
}

// waitWithActivityTimeout implements the activity-reset timer of §4.3/§9: a
// select over {child-exit, activity-tick, timer-fire}. On fire: SIGTERM,
// then SIGKILL after 5s, then give up waiting after another 5s and report
// timed_out regardless of whether the process has actually exited.
func (a *CLIAdapter) waitWithActivityTimeout(ctx context.Context, cmd *exec.Cmd, done <-chan error, activity <-chan struct{}, timeout time.Duration) (timedOut bool, waitErr error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case err := <-done:
			return false, err
		case <-activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)
		case <-ctx.Done():
			_ = cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				_ = cmd.Process.Kill()
				<-done
			}
			return true, nil
		case <-timer.C:
			_ = cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-done:
				return true, nil
			case <-time.After(5 * time.Second):
			}
			_ = cmd.Process.Kill()
			select {
			case <-done:
				return true, nil
			case <-time.After(5 * time.Second):
				return true, nil
			}
		}
	}
}

// buildArgv expands the invocation template into an argv vector. Every
// non-default path MUST argv-quote the prompt rather than shell-interpolate
// it (§6); since this builds argv tokens directly (never through a shell),
// no interpolation is possible by construction.
func (a *CLIAdapter) buildArgv(opts InvokeOptions, promptFilePath string) []string {
	template := opts.InvocationTemplate
	if template == "" {
		template = a.GetDefaultInvocationTemplate()
	}
	replacer := strings.NewReplacer(
		"{cli}", a.BinaryPath,
		"{prompt_file}", promptFilePath,
		"{model}", opts.Model,
		"{session_id}", opts.ResumeSessionID,
	)
	var argv []string
	for _, tok := range strings.Fields(template) {
		argv = append(argv, replacer.Replace(tok))
	}
	return argv
}

// ClassifyResult returns the typed failure classification for a Result, or
// nil when the result is a success or doesn't map to a known class (§4.3).
func (a *CLIAdapter) ClassifyResult(res *Result) *Classification {
	if res == nil || res.Success {
		return nil
	}
	combined := strings.ToLower(res.Stdout + "\n" + res.Stderr)

	if matchAny(combined, a.CreditPatterns) {
		return &Classification{Type: ClassCreditExhaustion, Message: firstMatch(combined, a.CreditPatterns)}
	}
	if matchAny(combined, a.RatePatterns) {
		c := &Classification{Type: ClassRateLimit, Message: firstMatch(combined, a.RatePatterns)}
		if ms := extractRetryAfterMS(combined); ms > 0 {
			c.RetryAfterMS = &ms
		}
		return c
	}
	if matchAny(combined, a.AuthPatterns) {
		return &Classification{Type: ClassAuthError, Message: firstMatch(combined, a.AuthPatterns)}
	}
	if matchAny(combined, a.ModelNotFoundPatterns) {
		return &Classification{Type: ClassModelNotFound, Message: firstMatch(combined, a.ModelNotFoundPatterns)}
	}
	return nil
}

func matchAny(haystack string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(haystack, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func firstMatch(haystack string, patterns []string) string {
	for _, p := range patterns {
		if strings.Contains(haystack, strings.ToLower(p)) {
			return p
		}
	}
	return ""
}

// extractRetryAfterMS looks for a "retry-after: Ns" style hint in the
// combined output; returns 0 when absent.
func extractRetryAfterMS(haystack string) int64 {
	idx := strings.Index(haystack, "retry-after:")
	if idx < 0 {
		return 0
	}
	rest := strings.TrimSpace(haystack[idx+len("retry-after:"):])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSuffix(fields[0], "s"))
	if err != nil {
		return 0
	}
	return int64(secs) * 1000
}
