package worktree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymlinkArtifactCreatesLink(t *testing.T) {
	repoRoot := t.TempDir()
	wtPath := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(repoRoot, "secrets.env"), []byte("X=1"), 0o644))

	warning, err := SymlinkArtifact(repoRoot, wtPath, "secrets.env")
	require.NoError(t, err)
	assert.Empty(t, warning)

	info, err := os.Lstat(filepath.Join(wtPath, "secrets.env"))
	require.NoError(t, err)
	assert.True(t, info.Mode()&os.ModeSymlink != 0)
}

func TestSymlinkArtifactMissingSourceWarnsNotFails(t *testing.T) {
	repoRoot := t.TempDir()
	wtPath := t.TempDir()

	warning, err := SymlinkArtifact(repoRoot, wtPath, "nonexistent.env")
	require.NoError(t, err)
	assert.Contains(t, warning, "not found")
}

func TestSymlinkArtifactExistingTargetWarnsNotFails(t *testing.T) {
	repoRoot := t.TempDir()
	wtPath := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(repoRoot, "secrets.env"), []byte("X=1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(wtPath, "secrets.env"), []byte("Y=2"), 0o644))

	warning, err := SymlinkArtifact(repoRoot, wtPath, "secrets.env")
	require.NoError(t, err)
	assert.Contains(t, warning, "already exists")
}

func TestRunPostCreateCollectsFailureWarnings(t *testing.T) {
	dir := t.TempDir()
	results := RunPostCreate(dir, []string{"true", "exit 1", "echo ok"})
	require.Len(t, results, 3)
	assert.Empty(t, results[0].Warning)
	assert.NotEmpty(t, results[1].Warning)
	assert.Empty(t, results[2].Warning)
}

func TestRenderEnvSubstitutesVariables(t *testing.T) {
	dir := t.TempDir()
	templatePath := filepath.Join(dir, ".env.template")
	outputPath := filepath.Join(dir, ".env.local")

	require.NoError(t, os.WriteFile(templatePath, []byte("PORT={{.port}}\nBRANCH={{.worktree}}\n"), 0o644))

	warning, err := RenderEnv(templatePath, outputPath, TemplateContext{Port: 3005, Worktree: "feature-a"})
	require.NoError(t, err)
	assert.Empty(t, warning)

	b, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "PORT=3005")
	assert.Contains(t, string(b), "BRANCH=feature-a")
}

func TestRenderEnvMissingTemplateWarnsNotFails(t *testing.T) {
	dir := t.TempDir()
	warning, err := RenderEnv(filepath.Join(dir, "missing.template"), filepath.Join(dir, ".env.local"), TemplateContext{})
	require.NoError(t, err)
	assert.Contains(t, warning, "not found")
}
