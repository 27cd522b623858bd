// Package policy is the operator's overlay on the built-in role profiles:
// which workspace roots tasks may run in and which tools are withheld from
// which roles. It is loaded from <home>/policy.yaml.
package policy

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/basket/clawboard/internal/roles"
)

// AllRoles is the deny_tools key that applies to every role.
const AllRoles = "*"

// Checker is the interface used by consumers to check a task's grant.
type Checker interface {
	AllowPath(path string) bool
	Grant(role string, allowed, denied []string) (allow, deny []string)
	PolicyVersion() string
}

// Policy is the serializable policy data.
type Policy struct {
	AllowPaths []string            `yaml:"allow_paths"`
	DenyTools  map[string][]string `yaml:"deny_tools"`
}

func Default() Policy {
	return Policy{}
}

func Load(path string) (Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	if len(data) == 0 {
		return Default(), nil
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// AllowPath checks whether a filesystem path is within an allowed prefix.
// An empty AllowPaths list permits all paths.
func (p Policy) AllowPath(path string) bool {
	if len(p.AllowPaths) == 0 {
		return true
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		// A workspace that does not exist yet: resolve its parent.
		resolved, err = filepath.EvalSymlinks(filepath.Dir(path))
		if err != nil {
			return false
		}
		resolved = filepath.Join(resolved, filepath.Base(path))
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return false
	}
	for _, allowed := range p.AllowPaths {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		allowedAbs, err := filepath.Abs(allowed)
		if err != nil {
			continue
		}
		// Resolve symlinks on the allowed path as well (e.g. /var -> /private/var on macOS).
		if evalAllowed, evalErr := filepath.EvalSymlinks(allowedAbs); evalErr == nil {
			allowedAbs = evalAllowed
		}
		if resolved == allowedAbs || strings.HasPrefix(resolved, allowedAbs+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Grant applies the deny overlay to a role's built-in tool lists. Denied
// tools are appended to deny and removed from allow; order is preserved.
func (p Policy) Grant(role string, allowed, denied []string) (allow, deny []string) {
	deny = append([]string(nil), denied...)
	for _, key := range []string{AllRoles, role} {
		for _, tool := range p.DenyTools[key] {
			tool = strings.ToLower(strings.TrimSpace(tool))
			if tool != "" && !slices.Contains(deny, tool) {
				deny = append(deny, tool)
			}
		}
	}
	for _, tool := range allowed {
		if !slices.Contains(deny, tool) {
			allow = append(allow, tool)
		}
	}
	return allow, deny
}

func (p Policy) PolicyVersion() string {
	return policyVersionFor(p)
}

func (p Policy) validate() error {
	for key := range p.DenyTools {
		if key != AllRoles && !roles.Known(key) {
			return fmt.Errorf("deny_tools: unknown role %q", key)
		}
	}
	return nil
}

// LivePolicy wraps a Policy with thread-safe mutation and persistence.
type LivePolicy struct {
	mu   sync.RWMutex
	data Policy
	path string // file path for persistence; empty = no persistence
}

// NewLivePolicy creates a LivePolicy from an initial Policy snapshot.
// If path is non-empty, mutations are persisted to that file.
func NewLivePolicy(initial Policy, path string) *LivePolicy {
	return &LivePolicy{data: initial, path: path}
}

func (lp *LivePolicy) AllowPath(path string) bool {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.data.AllowPath(path)
}

func (lp *LivePolicy) Grant(role string, allowed, denied []string) ([]string, []string) {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.data.Grant(role, allowed, denied)
}

func (lp *LivePolicy) PolicyVersion() string {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return policyVersionFor(lp.data)
}

// AllowWorkspace adds a workspace root at runtime and persists the change.
func (lp *LivePolicy) AllowWorkspace(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fmt.Errorf("empty workspace path")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve workspace path: %w", err)
	}
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if slices.Contains(lp.data.AllowPaths, abs) {
		return nil
	}
	lp.data.AllowPaths = append(lp.data.AllowPaths, abs)
	return lp.persist()
}

// DenyTool withholds a tool from a role (or every role with "*") and
// persists the change.
func (lp *LivePolicy) DenyTool(role, tool string) error {
	tool = strings.ToLower(strings.TrimSpace(tool))
	if tool == "" {
		return fmt.Errorf("empty tool name")
	}
	if role != AllRoles && !roles.Known(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if slices.Contains(lp.data.DenyTools[role], tool) {
		return nil
	}
	if lp.data.DenyTools == nil {
		lp.data.DenyTools = map[string][]string{}
	}
	lp.data.DenyTools[role] = append(lp.data.DenyTools[role], tool)
	return lp.persist()
}

// Reload replaces the policy data from a fresh Policy snapshot.
func (lp *LivePolicy) Reload(p Policy) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.data = p
}

// Snapshot returns a copy of the current policy data.
func (lp *LivePolicy) Snapshot() Policy {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	cp := Policy{AllowPaths: append([]string(nil), lp.data.AllowPaths...)}
	if lp.data.DenyTools != nil {
		cp.DenyTools = make(map[string][]string, len(lp.data.DenyTools))
		for k, v := range lp.data.DenyTools {
			cp.DenyTools[k] = append([]string(nil), v...)
		}
	}
	return cp
}

// ReloadFromFile updates the live policy only when the incoming file parses and validates.
// On error, the previous policy remains active.
func ReloadFromFile(lp *LivePolicy, path string) error {
	if lp == nil {
		return fmt.Errorf("nil live policy")
	}
	p, err := Load(path)
	if err != nil {
		return err
	}
	lp.Reload(p)
	return nil
}

func policyVersionFor(p Policy) string {
	h := fnv.New64a()
	for _, v := range p.AllowPaths {
		_, _ = h.Write([]byte(strings.TrimSpace(v) + "|"))
	}
	keys := make([]string, 0, len(p.DenyTools))
	for k := range p.DenyTools {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = h.Write([]byte("deny:" + k + "="))
		for _, tool := range p.DenyTools[k] {
			_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(tool)) + ","))
		}
		_, _ = h.Write([]byte("|"))
	}
	return "policy-" + strconv.FormatUint(h.Sum64(), 16)
}

func (lp *LivePolicy) persist() error {
	if lp.path == "" {
		return nil
	}
	out, err := yaml.Marshal(&lp.data)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	return os.WriteFile(lp.path, out, 0o644)
}
