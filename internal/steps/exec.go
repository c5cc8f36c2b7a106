package steps

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/example/semrel/internal/pipeline"
	"github.com/example/semrel/internal/release"
)

const stderrTail = 2048

type execOptions struct {
	VerifyCmd  string            `yaml:"verifyCmd"`
	PrepareCmd string            `yaml:"prepareCmd"`
	PublishCmd string            `yaml:"publishCmd"`
	Dir        string            `yaml:"dir"`
	Env        map[string]string `yaml:"env"`
}

// execStep runs user commands for each phase it has a command for.
type execStep struct {
	root string
	opts execOptions
}

func newExecStep(deps Deps, raw map[string]any) (pipeline.Step, error) {
	var opts execOptions
	if err := decode("exec", raw, &opts); err != nil {
		return nil, err
	}
	for field, cmd := range map[string]string{"verifyCmd": opts.VerifyCmd, "prepareCmd": opts.PrepareCmd, "publishCmd": opts.PublishCmd} {
		if strings.TrimSpace(cmd) == "" {
			continue
		}
		if _, err := splitCommand(cmd); err != nil {
			return nil, fmt.Errorf("exec %s: %w", field, err)
		}
	}
	return &execStep{root: deps.Root, opts: opts}, nil
}

func (s *execStep) Name() string { return "exec" }

func (s *execStep) Capabilities() pipeline.Capabilities {
	return pipeline.Capabilities{
		Verify:  strings.TrimSpace(s.opts.VerifyCmd) != "",
		Prepare: strings.TrimSpace(s.opts.PrepareCmd) != "",
		Publish: strings.TrimSpace(s.opts.PublishCmd) != "",
	}
}

func splitCommand(raw string) ([]string, error) {
	args, err := shellwords.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("command must contain at least one argument")
	}
	return args, nil
}

func (s *execStep) Verify(ctx context.Context, rc *release.Context) error {
	_, err := s.run(ctx, rc, s.opts.VerifyCmd)
	return err
}

func (s *execStep) Prepare(ctx context.Context, rc *release.Context) error {
	_, err := s.run(ctx, rc, s.opts.PrepareCmd)
	return err
}

// Publish reports the last non-empty stdout line as the artifact reference.
func (s *execStep) Publish(ctx context.Context, rc *release.Context) (string, error) {
	out, err := s.run(ctx, rc, s.opts.PublishCmd)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

func (s *execStep) run(ctx context.Context, rc *release.Context, raw string) (string, error) {
	args, err := splitCommand(expand(raw, rc))
	if err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = s.root
	if dir := strings.TrimSpace(s.opts.Dir); dir != "" {
		if filepath.IsAbs(dir) {
			cmd.Dir = dir
		} else {
			cmd.Dir = filepath.Join(s.root, dir)
		}
	}
	cmd.Env = s.environ(rc)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if tail := tailString(strings.TrimSpace(stderr.String()), stderrTail); tail != "" {
			return "", fmt.Errorf("%s: %w: %s", args[0], err, tail)
		}
		return "", fmt.Errorf("%s: %w", args[0], err)
	}
	return stdout.String(), nil
}

func (s *execStep) environ(rc *release.Context) []string {
	env := os.Environ()
	keys := make([]string, 0, len(s.opts.Env))
	for k := range s.opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+expand(s.opts.Env[k], rc))
	}
	return append(env,
		"SEMREL_VERSION="+rc.NextVersion.String(),
		"SEMREL_TAG="+rc.Tag,
		"SEMREL_CHANNEL="+rc.Channel.Name,
		"SEMREL_HEAD="+rc.Head,
		"SEMREL_NOTES="+rc.Notes,
	)
}

func tailString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
