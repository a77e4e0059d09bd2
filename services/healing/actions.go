// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package healing

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/AleutianAI/AleutianSentinel/services/faults"
)

// =============================================================================
// Healing Actions
// =============================================================================

// Action is one remediation strategy. Execute must be idempotent enough
// to run again on retry and must respect the context deadline.
type Action interface {
	// Type names the action for action records and reports.
	Type() string

	// Execute performs the remediation against the entity and returns a
	// human-readable result detail.
	Execute(ctx context.Context, f *faults.Fault, e faults.Entity) (string, error)
}

// CommandRunner executes a shell command and returns its combined
// output. Injectable so tests do not shell out.
type CommandRunner func(ctx context.Context, command string) (string, error)

// runShell is the production CommandRunner.
func runShell(ctx context.Context, command string) (string, error) {
	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	detail := strings.TrimSpace(string(out))
	if ctx.Err() != nil {
		return detail, fmt.Errorf("%w: %s", faults.ErrActionTimeout, command)
	}
	if err != nil {
		return detail, fmt.Errorf("%w: %s: %v", faults.ErrActionExecution, command, err)
	}
	return detail, nil
}

// commandAction is an Action backed by a shell command built per entity.
type commandAction struct {
	name  string
	run   CommandRunner
	build func(f *faults.Fault, e faults.Entity) (string, error)
}

func (a *commandAction) Type() string { return a.name }

func (a *commandAction) Execute(ctx context.Context, f *faults.Fault, e faults.Entity) (string, error) {
	command, err := a.build(f, e)
	if err != nil {
		return "", err
	}
	detail, err := a.run(ctx, command)
	if err != nil {
		return detail, err
	}
	if detail == "" {
		detail = fmt.Sprintf("ran %q", command)
	}
	return detail, nil
}

// restartCommand maps an entity to its restart invocation.
func restartCommand(e faults.Entity) (string, error) {
	switch e.Kind {
	case faults.KindContainer:
		return "podman restart " + e.ID, nil
	case faults.KindProcess:
		return "systemctl restart " + e.ID, nil
	}
	return "", fmt.Errorf("%w: no restart strategy for %s entity %s", faults.ErrNoActionForFaultType, e.Kind, e.ID)
}

// DefaultActions returns the root-cause to remediation table. The
// runner may be nil to use the real shell.
func DefaultActions(run CommandRunner) map[faults.Type]Action {
	if run == nil {
		run = runShell
	}
	return map[faults.Type]Action{
		faults.TypeCrash: &commandAction{
			name: "restart_entity",
			run:  run,
			build: func(f *faults.Fault, e faults.Entity) (string, error) {
				return restartCommand(e)
			},
		},
		// OOM-killed workloads come back with a fresh heap; a restart is
		// the only remediation that reclaims anonymous memory.
		faults.TypeMemoryExhaustion: &commandAction{
			name: "restart_entity",
			run:  run,
			build: func(f *faults.Fault, e faults.Entity) (string, error) {
				return restartCommand(e)
			},
		},
		faults.TypeCPUExhaustion: &commandAction{
			name: "kill_top_consumer",
			run:  run,
			build: func(f *faults.Fault, e faults.Entity) (string, error) {
				return `pid=$(ps -eo pid --sort=-pcpu | sed -n 2p) && kill -TERM "$pid" && echo "sent SIGTERM to pid $pid"`, nil
			},
		},
		faults.TypeDiskFull: &commandAction{
			name: "cleanup_temp",
			run:  run,
			build: func(f *faults.Fault, e faults.Entity) (string, error) {
				return "find /tmp /var/tmp -xdev -mindepth 1 -mtime +1 -delete 2>/dev/null; " +
					"journalctl --vacuum-size=200M 2>/dev/null; true", nil
			},
		},
		faults.TypeNetworkUnreachable: &commandAction{
			name: "reset_network_rule",
			run:  run,
			build: func(f *faults.Fault, e faults.Entity) (string, error) {
				return "ip route flush cache && (conntrack -F 2>/dev/null || true)", nil
			},
		},
	}
}
