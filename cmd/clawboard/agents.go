package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/basket/clawboard/internal/persistence"
	"github.com/basket/clawboard/internal/roles"
)

func runAgentCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: clawboard agent add|config")
		return 2
	}
	switch args[0] {
	case "add":
		return runAgentAdd(ctx, args[1:], stdout, stderr)
	case "config":
		return runAgentConfig(ctx, args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown agent action %q\n", args[0])
		return 2
	}
}

// runAgentAdd provisions one agent. Roles outside the built-in roster are
// accepted and run with the generic profile.
func runAgentAdd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("agent add", stderr)
	projectID := fs.String("project", "", "project id")
	role := fs.String("role", "", "agent role")
	name := fs.String("name", "", "display name (defaults to the role)")
	cfgJSON := fs.String("config", "", "agent config JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !requireFlag(stderr, "project", *projectID) || !requireFlag(stderr, "role", *role) {
		return 2
	}
	if err := roles.ValidateConfig(*cfgJSON); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if *name == "" {
		*name = *role
	}

	store, _, ok := openStore(stderr)
	if !ok {
		return 1
	}
	defer store.Close()

	if _, err := store.GetProject(ctx, *projectID); err != nil {
		fmt.Fprintf(stderr, "project %s: %v\n", *projectID, err)
		return 1
	}
	if _, err := store.AgentByRole(ctx, *projectID, *role); err == nil {
		fmt.Fprintf(stderr, "project already has a %s agent; use agent config\n", *role)
		return 1
	} else if !errors.Is(err, persistence.ErrNotFound) {
		fmt.Fprintf(stderr, "look up agent: %v\n", err)
		return 1
	}
	if _, err := store.ProvisionAgents(ctx, *projectID, []persistence.AgentSeed{{Role: *role, Name: *name, ConfigJSON: *cfgJSON}}); err != nil {
		fmt.Fprintf(stderr, "add agent: %v\n", err)
		return 1
	}
	a, err := store.AgentByRole(ctx, *projectID, *role)
	if err != nil {
		fmt.Fprintf(stderr, "look up agent: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "agent %s added (%s)\n", a.ID, a.Role)
	return 0
}

// runAgentConfig merges the keys of -set into the agent's config. A key set
// to null is removed.
func runAgentConfig(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("agent config", stderr)
	projectID := fs.String("project", "", "project id")
	role := fs.String("role", "", "agent role")
	set := fs.String("set", "", `config keys as a JSON object, e.g. {"model":"gpt-4o"}`)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !requireFlag(stderr, "project", *projectID) || !requireFlag(stderr, "role", *role) || !requireFlag(stderr, "set", *set) {
		return 2
	}
	var patch map[string]any
	if err := json.Unmarshal([]byte(*set), &patch); err != nil {
		fmt.Fprintf(stderr, "-set must be a JSON object: %v\n", err)
		return 2
	}

	store, _, ok := openStore(stderr)
	if !ok {
		return 1
	}
	defer store.Close()

	a, err := store.AgentByRole(ctx, *projectID, *role)
	if err != nil {
		fmt.Fprintf(stderr, "agent %s in project %s: %v\n", *role, *projectID, err)
		return 1
	}
	merged, err := mergeConfig(a.ConfigJSON, patch)
	if err != nil {
		fmt.Fprintf(stderr, "stored config: %v\n", err)
		return 1
	}
	if err := roles.ValidateConfig(merged); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if err := store.UpdateAgentConfig(ctx, a.ID, merged); err != nil {
		fmt.Fprintf(stderr, "update agent config: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, merged)
	return 0
}

func mergeConfig(current string, patch map[string]any) (string, error) {
	cfg := map[string]any{}
	if current != "" {
		if err := json.Unmarshal([]byte(current), &cfg); err != nil {
			return "", err
		}
	}
	for k, v := range patch {
		if v == nil {
			delete(cfg, k)
			continue
		}
		cfg[k] = v
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
