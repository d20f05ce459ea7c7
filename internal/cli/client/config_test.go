package client

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useTempConfig points the global config at a temporary directory.
func useTempConfig(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "kbchat")
	oldDir, oldPath := getConfigDirFunc, getConfigPathFunc
	getConfigDirFunc = func() (string, error) { return dir, nil }
	getConfigPathFunc = func() (string, error) { return filepath.Join(dir, "config.json"), nil }
	t.Cleanup(func() {
		getConfigDirFunc, getConfigPathFunc = oldDir, oldPath
	})
	return dir
}

func TestDefaultConfigPath(t *testing.T) {
	path, err := defaultGetConfigPath()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
	assert.True(t, strings.HasSuffix(path, filepath.Join("kbchat", "config.json")))
}

func TestLoadGlobalConfig_FileNotExists(t *testing.T) {
	useTempConfig(t)

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Nil(t, config)
}

func TestSaveAndLoadGlobalConfig(t *testing.T) {
	dir := useTempConfig(t)

	require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIURL: "https://kb.example.com"}))

	info, err := os.Stat(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	require.NotNil(t, config)
	assert.Equal(t, "https://kb.example.com", config.APIURL)
}

func TestLoadGlobalConfig_InvalidJSON(t *testing.T) {
	dir := useTempConfig(t)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{invalid json}"), 0o600))

	_, err := LoadGlobalConfig()
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestSaveGlobalConfig_Nil(t *testing.T) {
	assert.Error(t, SaveGlobalConfig(nil))
}

func TestValidateAPIURL(t *testing.T) {
	assert.NoError(t, ValidateAPIURL("http://localhost:8080"))
	assert.NoError(t, ValidateAPIURL("https://kb.example.com/api"))
	assert.Error(t, ValidateAPIURL("localhost:8080"))
	assert.Error(t, ValidateAPIURL("ftp://example.com"))
	assert.Error(t, ValidateAPIURL(""))
}

func TestNewAPIClientWithCmd_Cascade(t *testing.T) {
	useTempConfig(t)
	t.Setenv(envAPIURL, "")

	api, err := NewAPIClientWithCmd(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultAPIURL, api.baseURL)

	require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIURL: "http://from-config:8080"}))
	api, err = NewAPIClientWithCmd(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://from-config:8080", api.baseURL)

	t.Setenv(envAPIURL, "http://from-env:8080/")
	api, err = NewAPIClientWithCmd(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:8080", api.baseURL)

	cmd := &cobra.Command{}
	cmd.Flags().String("api-url", "", "")
	require.NoError(t, cmd.Flags().Set("api-url", "http://from-flag:9000"))
	api, err = NewAPIClientWithCmd(cmd)
	require.NoError(t, err)
	assert.Equal(t, "http://from-flag:9000", api.baseURL)
}

func TestConfigCmd_SetURL(t *testing.T) {
	useTempConfig(t)

	cmd := ConfigCmd()
	cmd.SetArgs([]string{"set-url", "https://kb.example.com"})
	var out strings.Builder
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "https://kb.example.com")

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://kb.example.com", config.APIURL)

	cmd = ConfigCmd()
	cmd.SetArgs([]string{"set-url", "not a url"})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	assert.Error(t, cmd.Execute())
}
