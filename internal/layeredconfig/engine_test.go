package layeredconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempTOML(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestWrite_UserEntryNarrowingManagedAllowList(t *testing.T) {
	dir := t.TempDir()
	managedPath := writeTempTOML(t, dir, "managed.toml", "[network]\nallowed_domains = [\"*.example.com\"]\n")
	userPath := filepath.Join(dir, "user.toml")

	pinSpec := map[string]ConstraintKind{"network.allowed_domains": AllowListPin}
	eng := NewEngine([]LayerSource{
		{Source: SourceManagedMDM, Path: managedPath},
		{Source: SourceUserFile, Path: userPath},
	}, pinSpec, nil, nil)

	_, err := eng.Read(false)
	require.NoError(t, err)

	// Narrowing write succeeds.
	_, err = eng.Write(WriteRequest{
		FilePath: userPath,
		Edits:    []Edit{{KeyPath: "network.allowed_domains", Value: []string{"api.example.com"}, Strategy: MergeReplace}},
	})
	assert.NoError(t, err)

	// Widening write fails.
	_, err = eng.Write(WriteRequest{
		FilePath: userPath,
		Edits:    []Edit{{KeyPath: "network.allowed_domains", Value: []string{"**.example.com"}, Strategy: MergeReplace}},
	})
	assert.Error(t, err)
}

func TestWrite_RejectsNonUserFilePath(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "user.toml")
	eng := NewEngine([]LayerSource{{Source: SourceUserFile, Path: userPath}}, nil, nil, nil)
	_, err := eng.Read(false)
	require.NoError(t, err)

	_, err = eng.Write(WriteRequest{
		FilePath: "/some/other/path.toml",
		Edits:    []Edit{{KeyPath: "a.b", Value: "x", Strategy: MergeReplace}},
	})
	assert.ErrorIs(t, err, ErrLayerReadonly)
}

func TestWrite_PreservesCommentsOnEdit(t *testing.T) {
	dir := t.TempDir()
	userPath := writeTempTOML(t, dir, "user.toml", "# top comment\n[features]\n# remote compaction toggle\nremote_compaction = false\n")

	eng := NewEngine([]LayerSource{{Source: SourceUserFile, Path: userPath}}, nil, nil, nil)
	_, err := eng.Read(false)
	require.NoError(t, err)

	_, err = eng.Write(WriteRequest{
		FilePath: userPath,
		Edits:    []Edit{{KeyPath: "features.remote_compaction", Value: true, Strategy: MergeReplace}},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(userPath)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "# top comment")
	assert.Contains(t, text, "# remote compaction toggle")
	assert.Contains(t, text, "remote_compaction = true")
}

func TestRead_MergesRightBiasedAcrossLayers(t *testing.T) {
	dir := t.TempDir()
	lowPath := writeTempTOML(t, dir, "legacy.toml", "[agent]\nmodel = \"legacy-model\"\n")
	highPath := writeTempTOML(t, dir, "mdm.toml", "[agent]\nmodel = \"mdm-model\"\n")

	eng := NewEngine([]LayerSource{
		{Source: SourceLegacyManaged, Path: lowPath},
		{Source: SourceManagedMDM, Path: highPath},
	}, nil, nil, nil)

	res, err := eng.Read(false)
	require.NoError(t, err)

	agent := res.Config["agent"].(Table)
	assert.Equal(t, "mdm-model", agent["model"])
	assert.Equal(t, SourceManagedMDM, res.Origins["agent.model"].Source)
}
