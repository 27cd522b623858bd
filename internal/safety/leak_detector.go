// Package safety scans agent output for credentials the agent may have
// echoed from its workspace or environment.
package safety

import (
	"regexp"
)

// LeakWarning describes one suspected secret in agent output.
type LeakWarning struct {
	Pattern string
	Sample  string // truncated match, safe to log
}

// LeakDetector scans text for leaked secrets. It never modifies its input.
type LeakDetector struct {
	patterns []leakPattern
}

type leakPattern struct {
	re   *regexp.Regexp
	desc string
}

var defaultLeakPatterns = []leakPattern{
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`), "API key"},
	{regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_\-./+=]{16,}`), "Bearer token"},
	{regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`), "Google API key"},
	{regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]{20,}`), "Anthropic API key"},
	{regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), "OpenAI API key"},
	{regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`), "GitHub token"},
	{regexp.MustCompile(`\b\d{8,10}:[A-Za-z0-9_\-]{35}\b`), "Telegram bot token"},
	{regexp.MustCompile(`-----BEGIN\s+(RSA\s+|OPENSSH\s+)?PRIVATE\s+KEY-----`), "private key"},
}

func NewLeakDetector() *LeakDetector {
	return &LeakDetector{patterns: defaultLeakPatterns}
}

// Scan returns up to three warnings per pattern.
func (d *LeakDetector) Scan(output string) []LeakWarning {
	if output == "" {
		return nil
	}
	var warnings []LeakWarning
	for _, pat := range d.patterns {
		for _, match := range pat.re.FindAllString(output, 3) {
			warnings = append(warnings, LeakWarning{Pattern: pat.desc, Sample: sample(match)})
		}
	}
	return warnings
}

func sample(match string) string {
	if len(match) > 12 {
		return match[:8] + "..."
	}
	return match
}
