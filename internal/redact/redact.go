// Package redact scrubs secrets out of free text with the Gitleaks rule set
// before the text leaves the process.
package redact

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// Finding is one detected secret.
type Finding struct {
	RuleID   string
	RuleDesc string
	Line     int
	Match    string
}

// Allowlist holds content patterns that are never treated as secrets.
type Allowlist struct {
	Regexes []string
}

// LoadAllowlist reads a TOML allowlist of the form
//
//	[allowlist]
//	regexes = ["DEMO_[A-Z]+"]
//
// A missing file yields an empty allowlist.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &Allowlist{}, nil
		}
		return nil, err
	}

	var config struct {
		Allowlist struct {
			Regexes []string
		}
	}
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	for _, pattern := range config.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: '%s' in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	return &Allowlist{Regexes: config.Allowlist.Regexes}, nil
}

// Redactor replaces detected secrets with [REDACTED:rule:preview] markers.
type Redactor struct {
	allowlist []*regexp.Regexp
	patterns  []string
}

// New returns a Redactor. allowlist may be nil.
func New(allowlist *Allowlist) (*Redactor, error) {
	r := &Redactor{}
	if allowlist == nil {
		return r, nil
	}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: '%s': %v", ErrInvalidRegex, pattern, err)
		}
		r.allowlist = append(r.allowlist, re)
		r.patterns = append(r.patterns, pattern)
	}
	return r, nil
}

// Detect returns the secrets found in content.
func (r *Redactor) Detect(content string) ([]Finding, error) {
	// 800+ default rules; the detector is not safe to share between calls
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("redact: create detector: %w", err)
	}
	if len(r.allowlist) > 0 {
		r.applyAllowlist(&detector.Config)
	}

	found := detector.DetectString(content)
	out := make([]Finding, 0, len(found))
	for _, f := range found {
		if f.Secret == "" {
			continue
		}
		out = append(out, Finding{
			RuleID:   f.RuleID,
			RuleDesc: f.Description,
			Line:     f.StartLine,
			Match:    f.Secret,
		})
	}
	return out, nil
}

func (r *Redactor) applyAllowlist(cfg *gitleaksConfig.Config) {
	global := &gitleaksConfig.Allowlist{Description: "learning pipeline allowlist"}
	for _, re := range r.allowlist {
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, r.patterns...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}

// Redact returns content with every finding replaced by a marker, and the
// number of secrets replaced.
func (r *Redactor) Redact(content string) (string, int, error) {
	if strings.TrimSpace(content) == "" {
		return content, 0, nil
	}
	findings, err := r.Detect(content)
	if err != nil {
		return "", 0, err
	}
	if len(findings) == 0 {
		return content, 0, nil
	}

	// longest first so a secret that contains another is replaced whole
	sort.Slice(findings, func(i, j int) bool { return len(findings[i].Match) > len(findings[j].Match) })
	for _, f := range findings {
		content = strings.ReplaceAll(content, f.Match, marker(f))
	}
	return content, len(findings), nil
}

func marker(f Finding) string {
	return fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview(f.Match, 4))
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
