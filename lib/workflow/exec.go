// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/dirigent-project/dirigent/lib/orchestration"
)

// execOutputLimit caps how much command output an ExecRunner keeps in
// the task result.
const execOutputLimit = 16 * 1024

// ExecRunner returns a Runner that executes command for each task.
// The task is exposed through DIRIGENT_TASK_* environment variables
// and the run is bound to the process run context, so supervisor
// timeouts and stops kill the command. Combined output (truncated to
// a fixed cap) lands in the result detail.
func ExecRunner(command string, args ...string) Runner {
	return func(ctx context.Context, task orchestration.Task) (map[string]any, error) {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Env = append(os.Environ(),
			"DIRIGENT_TASK_ID="+task.ID,
			"DIRIGENT_TASK_TITLE="+task.Title,
			"DIRIGENT_TASK_PRIORITY="+fmt.Sprint(task.Priority),
		)

		output, err := cmd.CombinedOutput()
		if len(output) > execOutputLimit {
			output = output[:execOutputLimit]
		}
		detail := map[string]any{
			"command": command,
			"output":  string(output),
		}
		if err != nil {
			return detail, fmt.Errorf("workflow: task command: %w", err)
		}
		return detail, nil
	}
}
