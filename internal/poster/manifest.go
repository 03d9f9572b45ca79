package poster

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/clawdops/outreach-desk/internal/drafts"
	"gopkg.in/yaml.v3"
)

// Manifest describes how each platform's posting CLI is invoked. It lives in
// platforms.yaml under the outreach base.
type Manifest struct {
	Platforms map[string]PlatformSpec `yaml:"platforms"`
}

// PlatformSpec is one platform's command line. Args may contain {{text}},
// {{target}} and {{KEY}} placeholders, the latter filled from the env file.
type PlatformSpec struct {
	Command string `yaml:"command"`
	// EnvFile holds KEY=value credentials, relative to the outreach base.
	EnvFile      string   `yaml:"envFile,omitempty"`
	RequiredKeys []string `yaml:"requiredKeys,omitempty"`
	AccountKey   string   `yaml:"accountKey,omitempty"`
	PostArgs     []string `yaml:"postArgs"`
	ReplyArgs    []string `yaml:"replyArgs,omitempty"`
	// TargetPattern extracts the reply id from a URL; group 1 is the id.
	TargetPattern string `yaml:"targetPattern,omitempty"`
	// BareTargetPattern accepts a target that is already an id.
	BareTargetPattern string        `yaml:"bareTargetPattern,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty"`

	targetRe *regexp.Regexp
	bareRe   *regexp.Regexp
}

// SupportsReply reports whether the platform can post replies.
func (s *PlatformSpec) SupportsReply() bool {
	return len(s.ReplyArgs) > 0
}

func (s *PlatformSpec) compile(name string) error {
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("platform %s: command is required", name)
	}
	if len(s.PostArgs) == 0 {
		return fmt.Errorf("platform %s: postArgs is required", name)
	}
	var err error
	if s.TargetPattern != "" {
		if s.targetRe, err = regexp.Compile(s.TargetPattern); err != nil {
			return fmt.Errorf("platform %s: targetPattern: %w", name, err)
		}
		if s.targetRe.NumSubexp() < 1 {
			return fmt.Errorf("platform %s: targetPattern needs a capture group", name)
		}
	}
	if s.BareTargetPattern != "" {
		if s.bareRe, err = regexp.Compile(s.BareTargetPattern); err != nil {
			return fmt.Errorf("platform %s: bareTargetPattern: %w", name, err)
		}
	}
	return nil
}

// resolveTarget reduces a reply target to the id the CLI expects. Without a
// targetPattern the target is passed through.
func (s *PlatformSpec) resolveTarget(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("%w: empty target", drafts.ErrInvalidTarget)
	}
	if s.targetRe == nil && s.bareRe == nil {
		return target, nil
	}
	if s.bareRe != nil && s.bareRe.MatchString(target) {
		return target, nil
	}
	if s.targetRe != nil {
		if m := s.targetRe.FindStringSubmatch(target); m != nil && m[1] != "" {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: %q", drafts.ErrInvalidTarget, target)
}

// DefaultManifest wires x to the bird CLI. The other platforms have no
// posting command until one is configured.
func DefaultManifest() *Manifest {
	auth := []string{"--auth-token", "{{X_AUTH_TOKEN}}", "--ct0", "{{X_CT0}}"}
	return &Manifest{Platforms: map[string]PlatformSpec{
		string(drafts.X): {
			Command:           "bird",
			EnvFile:           "x/.env",
			RequiredKeys:      []string{"X_AUTH_TOKEN", "X_CT0"},
			AccountKey:        "X_ACCOUNT",
			PostArgs:          append(append([]string{}, auth...), "tweet", "{{text}}"),
			ReplyArgs:         append(append([]string{}, auth...), "reply", "{{target}}", "{{text}}"),
			TargetPattern:     `status/(\d+)`,
			BareTargetPattern: `^\d+$`,
			Timeout:           30 * time.Second,
		},
	}}
}

// ParseManifest decodes and validates platforms.yaml content.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("poster: manifest is empty")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("poster: decode manifest: %w", err)
	}
	if err := m.normalize(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest reads path. A missing file yields DefaultManifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m := DefaultManifest()
			if err := m.normalize(); err != nil {
				return nil, err
			}
			return m, nil
		}
		return nil, fmt.Errorf("poster: read %s: %w", path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return m, nil
}

// Marshal renders the manifest as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Manifest) normalize() error {
	if m.Platforms == nil {
		m.Platforms = map[string]PlatformSpec{}
	}
	out := make(map[string]PlatformSpec, len(m.Platforms))
	for name, spec := range m.Platforms {
		p, err := drafts.ParsePlatform(name)
		if err != nil {
			return fmt.Errorf("poster: %w", err)
		}
		if err := spec.compile(string(p)); err != nil {
			return fmt.Errorf("poster: %w", err)
		}
		out[string(p)] = spec
	}
	m.Platforms = out
	return nil
}

// Lookup returns the spec for p.
func (m *Manifest) Lookup(p drafts.Platform) (PlatformSpec, bool) {
	spec, ok := m.Platforms[string(p)]
	return spec, ok
}

// Names lists configured platforms, sorted.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Platforms))
	for n := range m.Platforms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
