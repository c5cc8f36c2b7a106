// gitinfo.go reads Git metadata used to pick the release channel and stamp run records.
package gitinfo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// BranchEnvVars lists CI variables consulted, in order, before asking git.
var BranchEnvVars = []string{"GITHUB_REF_NAME", "CI_COMMIT_BRANCH", "BRANCH_NAME"}

// CurrentBranch returns explicit when set, then the first non-empty CI variable,
// then the branch checked out in dir.
func CurrentBranch(ctx context.Context, dir, explicit string) (string, error) {
	if b := strings.TrimSpace(explicit); b != "" {
		return b, nil
	}
	for _, key := range BranchEnvVars {
		if b := strings.TrimSpace(os.Getenv(key)); b != "" {
			return b, nil
		}
	}
	out, err := git(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("detect branch: %w", err)
	}
	if out == "HEAD" {
		return "", fmt.Errorf("detect branch: detached HEAD (pass --branch or set %s)", BranchEnvVars[0])
	}
	return out, nil
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if strings.TrimSpace(dir) != "" {
		cmd.Dir = dir
	}
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
