package actions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "action.yml"), []byte(content), 0644))
	return dir
}

func TestResolveComposite(t *testing.T) {
	dir := writeManifest(t, `
name: greet
inputs:
  who:
    default: world
runs:
  using: composite
  steps:
    - id: hello
      run: echo hello $INPUT_WHO
    - run: echo bye
      continue-on-error: true
`)

	resolver := NewResolver(dir)
	step, err := resolver.Resolve("s1", dir, map[string]string{"who": "there"})
	require.NoError(t, err)

	assert.Equal(t, v1beta1.StepKindCompositeAction, step.Kind)
	require.Len(t, step.Steps, 2)
	assert.Equal(t, "hello", step.Steps[0].ID)
	assert.Equal(t, "s1-1", step.Steps[1].ID)
	assert.True(t, step.Steps[1].ContinueOnError)
	assert.Equal(t, "there", step.Env["INPUT_WHO"])
}

func TestResolveNode(t *testing.T) {
	dir := writeManifest(t, `
name: setup
runs:
  using: node20
  main: dist/index.js
`)

	resolver := NewResolver(dir)
	step, err := resolver.Resolve("s1", dir, nil)
	require.NoError(t, err)

	assert.Equal(t, v1beta1.StepKindNodeAction, step.Kind)
	assert.Equal(t, "dist/index.js", step.Entrypoint)
}

func TestResolveDocker(t *testing.T) {
	dir := writeManifest(t, `
name: lint
runs:
  using: docker
  image: alpine:3
  entrypoint: /lint.sh
  args: ["--strict"]
`)

	resolver := NewResolver(dir)
	step, err := resolver.Resolve("s1", dir, map[string]string{"level": "high"})
	require.NoError(t, err)

	assert.Equal(t, v1beta1.StepKindContainerAction, step.Kind)
	assert.Equal(t, "alpine:3", step.Image)
	assert.Equal(t, []string{"/lint.sh"}, step.Command)
	assert.Equal(t, []string{"--strict"}, step.Args)
	assert.Equal(t, "high", step.Env["INPUT_LEVEL"])
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		contains string
	}{
		{
			name:     "missing using",
			manifest: "name: broken\nruns: {}\n",
			contains: "runs.using",
		},
		{
			name:     "unsupported using",
			manifest: "name: broken\nruns:\n  using: rust\n",
			contains: "unsupported",
		},
		{
			name:     "node without main",
			manifest: "name: broken\nruns:\n  using: node20\n",
			contains: "runs.main",
		},
		{
			name:     "docker without image",
			manifest: "name: broken\nruns:\n  using: docker\n",
			contains: "runs.image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeManifest(t, tt.manifest)
			resolver := NewResolver(dir)
			_, err := resolver.Resolve("s1", dir, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoadManifestMissing(t *testing.T) {
	_, err := LoadManifest(t.TempDir())
	assert.ErrorIs(t, err, ErrNoManifest)
}
