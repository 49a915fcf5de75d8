package winsetup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadErrorReport_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	report := Report{Code: CodeHelperSandboxLockFailed, Message: "boom"}

	require.NoError(t, WriteErrorReport(dir, report))

	got, err := ReadErrorReport(dir)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, report, *got)

	require.NoError(t, ClearErrorReport(dir))
	got2, err := ReadErrorReport(dir)
	require.NoError(t, err)
	assert.Nil(t, got2)
}

func TestReadErrorReport_AbsentIsNilNotError(t *testing.T) {
	dir := t.TempDir()
	got, err := ReadErrorReport(dir)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClearErrorReport_AbsentIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, ClearErrorReport(dir))
}

func TestRedactUsernameSegments_ReplacesMatchingPathSegments(t *testing.T) {
	msg := `failed to write C:\Users\Alice\file.txt; fallback D:\Profiles\Bob\x`
	got := redactUsernameSegments(msg, []string{"Alice", "Bob"})
	assert.Equal(t, `failed to write C:\Users\<user>\file.txt; fallback D:\Profiles\<user>\x`, got)
}

func TestRedactUsernameSegments_LeavesUnknownSegments(t *testing.T) {
	msg := `failed to write E:\data\file.txt`
	got := redactUsernameSegments(msg, []string{"Alice"})
	assert.Equal(t, msg, got)
}

func TestSanitizeTagValue_StripsUnsafeCharsAndTruncates(t *testing.T) {
	got := SanitizeTagValue("hello world!!! ###")
	assert.Equal(t, "hello_world", got)

	assert.Equal(t, "unspecified", SanitizeTagValue("!!!"))

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	got2 := SanitizeTagValue(string(long))
	assert.Len(t, got2, maxTagLen)
}

func TestErrorPath_IsUnderDotSandbox(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteErrorReport(dir, Report{Code: CodeHelperUnknownError, Message: "x"}))
	_, err := os.Stat(filepath.Join(dir, ".sandbox", "setup_error.json"))
	assert.NoError(t, err)
}
