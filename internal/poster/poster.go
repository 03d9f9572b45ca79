// Package poster runs the per-platform posting CLIs described by
// platforms.yaml.
package poster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/clawdops/outreach-desk/internal/drafts"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultTimeout = 30 * time.Second

// Runner executes a command and returns its stdout and stderr.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

type Option func(*Poster)

// WithRunner replaces os/exec.
func WithRunner(r Runner) Option {
	return func(p *Poster) { p.run = r }
}

// WithTimeout sets the timeout for platforms whose spec has none.
func WithTimeout(d time.Duration) Option {
	return func(p *Poster) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRateLimit caps posts per minute per platform. Zero disables it.
func WithRateLimit(rpm int) Option {
	return func(p *Poster) { p.rpm = rpm }
}

var _ drafts.Poster = (*Poster)(nil)

// Poster implements drafts.Poster over external CLIs.
type Poster struct {
	manifest *Manifest
	base     string
	run      Runner
	timeout  time.Duration
	rpm      int
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	limiters map[drafts.Platform]*rate.Limiter
}

// New builds a Poster. base is the outreach base that env files are
// relative to.
func New(manifest *Manifest, base string, logger *zap.SugaredLogger, opts ...Option) *Poster {
	if manifest == nil {
		manifest = &Manifest{Platforms: map[string]PlatformSpec{}}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p := &Poster{
		manifest: manifest,
		base:     base,
		run:      execRunner,
		timeout:  defaultTimeout,
		logger:   logger,
		limiters: make(map[drafts.Platform]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Supports reports whether p has a posting command and whether it can reply.
func (p *Poster) Supports(platform drafts.Platform) (post, reply bool) {
	spec, ok := p.manifest.Lookup(platform)
	if !ok {
		return false, false
	}
	return true, spec.SupportsReply()
}

// Credentials reads the platform's env file without exposing secret values.
func (p *Poster) Credentials(platform drafts.Platform) (CredentialsStatus, error) {
	spec, ok := p.manifest.Lookup(platform)
	if !ok {
		return CredentialsStatus{}, nil
	}
	env, err := readEnvFile(p.envPath(spec))
	if err != nil {
		return CredentialsStatus{}, err
	}
	st := CredentialsStatus{Missing: missingKeys(env, spec.RequiredKeys)}
	st.Configured = len(st.Missing) == 0
	if st.Configured && spec.AccountKey != "" {
		st.Account = env[spec.AccountKey]
	}
	return st, nil
}

func (p *Poster) envPath(spec PlatformSpec) string {
	if spec.EnvFile == "" {
		return ""
	}
	if filepath.IsAbs(spec.EnvFile) {
		return spec.EnvFile
	}
	return filepath.Join(p.base, spec.EnvFile)
}

// Post runs the platform CLI. It returns ErrNotConfigured when the platform
// has no command or credentials, ErrInvalidTarget when a reply target cannot
// be resolved and an *ExternalError when the CLI fails or times out.
func (p *Poster) Post(ctx context.Context, req drafts.PostRequest) (drafts.PostResult, error) {
	spec, ok := p.manifest.Lookup(req.Platform)
	if !ok {
		return drafts.PostResult{}, fmt.Errorf("%w: no command for %s", drafts.ErrNotConfigured, req.Platform)
	}

	env, err := readEnvFile(p.envPath(spec))
	if err != nil {
		return drafts.PostResult{}, fmt.Errorf("%w: %v", drafts.ErrNotConfigured, err)
	}
	if missing := missingKeys(env, spec.RequiredKeys); len(missing) > 0 {
		return drafts.PostResult{}, fmt.Errorf("%w: %s credentials missing %s",
			drafts.ErrNotConfigured, req.Platform, strings.Join(missing, ", "))
	}

	argTemplate := spec.PostArgs
	target := ""
	if req.ReplyTo != "" {
		if !spec.SupportsReply() {
			return drafts.PostResult{}, fmt.Errorf("%w: %s does not support replies", drafts.ErrInvalidTarget, req.Platform)
		}
		if target, err = spec.resolveTarget(req.ReplyTo); err != nil {
			return drafts.PostResult{}, err
		}
		argTemplate = spec.ReplyArgs
	}
	args := expandArgs(argTemplate, env, req.Text, target)

	if err := p.wait(ctx, req.Platform); err != nil {
		return drafts.PostResult{}, err
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, err := p.run(runCtx, spec.Command, args...)
	p.logger.Debugw("Posting command finished",
		"platform", req.Platform,
		"draft", req.DraftID,
		"command", spec.Command,
		"reply", target != "",
		"duration", time.Since(start),
	)

	out := strings.TrimSpace(string(stdout))
	if out == "" {
		out = strings.TrimSpace(string(stderr))
	}

	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%s timed out after %s: %w", spec.Command, timeout, context.DeadlineExceeded)
		}
		detail := strings.TrimSpace(string(stderr))
		if detail == "" {
			detail = out
		}
		return drafts.PostResult{}, &drafts.ExternalError{Platform: req.Platform, Output: detail, Err: err}
	}
	return drafts.PostResult{Output: out}, nil
}

func (p *Poster) wait(ctx context.Context, platform drafts.Platform) error {
	if p.rpm <= 0 {
		return nil
	}
	p.mu.Lock()
	l, ok := p.limiters[platform]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(p.rpm)), 1)
		p.limiters[platform] = l
	}
	p.mu.Unlock()

	if err := l.Wait(ctx); err != nil {
		return &drafts.ExternalError{Platform: platform, Output: "rate limited", Err: err}
	}
	return nil
}

// expandArgs substitutes placeholders. Each template is expanded in a single
// pass so placeholder-like text inside the draft is left alone.
func expandArgs(tmpl []string, env map[string]string, text, target string) []string {
	pairs := make([]string, 0, 2*len(env)+4)
	for k, v := range env {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	pairs = append(pairs, "{{text}}", text, "{{target}}", target)
	r := strings.NewReplacer(pairs...)

	out := make([]string, len(tmpl))
	for i, a := range tmpl {
		out[i] = r.Replace(a)
	}
	return out
}
