package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDescriptorFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func TestLoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDescriptorFile(t, dir, "reviewer.yaml", `
name: code-reviewer
description: reviews code
parallelizable: true
chainable: true
timeout_seconds: 120
parameters:
  - name: files
    required: true
  - name: type
    default: full
    enum: [full, quick]
tool_permissions:
  fs.read: read
`)
	writeDescriptorFile(t, dir, "writer.yaml", `
name: test-writer
description: writes tests
parallelizable: true
`)
	writeDescriptorFile(t, dir, "README.md", "not a descriptor")

	agents, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, agents, 2)

	reviewer := agents["code-reviewer"]
	assert.True(t, reviewer.Parallelizable)
	assert.Equal(t, PermissionRead, reviewer.PermissionFor("fs.read"))

	schema, ok := reviewer.ParamSchemaFor("type")
	require.True(t, ok)
	assert.Equal(t, "full", schema.Default)
	assert.True(t, schema.Valid("quick"))
	assert.False(t, schema.Valid("bogus"))
}

func TestLoadDirRejectsBadName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDescriptorFile(t, dir, "bad.yaml", `
name: Bad Name
description: nope
`)

	_, err := LoadDir(dir)
	require.Error(t, err)
}

func TestLoadDirDuplicateName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDescriptorFile(t, dir, "a.yaml", "name: dup\n")
	writeDescriptorFile(t, dir, "b.yaml", "name: dup\n")

	_, err := LoadDir(dir)
	require.Error(t, err)
}

func TestRegistryGetAndNames(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(map[string]Descriptor{
		"a": {Name: "a"},
		"b": {Name: "b"},
	})

	_, ok := reg.Get("a")
	assert.True(t, ok)
	_, ok = reg.Get("missing")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"a", "b"}, reg.Names())
}

func TestPermissionForDefaultsToNone(t *testing.T) {
	t.Parallel()

	d := Descriptor{Name: "a"}
	assert.Equal(t, PermissionNone, d.PermissionFor("fs.write"))
}
