package paths

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withPlatform swaps the platform hooks for one test.
func withPlatform(t *testing.T, goos, home, userConfig string) {
	t.Helper()
	saved := platformDir
	t.Cleanup(func() { platformDir = saved })
	platformDir.goos = goos
	platformDir.homeDir = func() (string, error) { return home, nil }
	platformDir.userConfigDir = func() (string, error) { return userConfig, nil }
}

func TestDefaultConfigDir(t *testing.T) {
	t.Run("linux uses XDG_CONFIG_HOME when set", func(t *testing.T) {
		withPlatform(t, "linux", "/home/ana", "")
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-config")
		got, err := DefaultConfigDir()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/xdg-config/pantry", got)
	})

	t.Run("linux falls back to ~/.config", func(t *testing.T) {
		withPlatform(t, "linux", "/home/ana", "")
		t.Setenv("XDG_CONFIG_HOME", "")
		got, err := DefaultConfigDir()
		require.NoError(t, err)
		assert.Equal(t, "/home/ana/.config/pantry", got)
	})

	t.Run("darwin uses the user config dir", func(t *testing.T) {
		withPlatform(t, "darwin", "/Users/ana", "/Users/ana/Library/Application Support")
		got, err := DefaultConfigDir()
		require.NoError(t, err)
		assert.Equal(t, "/Users/ana/Library/Application Support/pantry", got)
	})

	t.Run("errors propagate", func(t *testing.T) {
		withPlatform(t, "windows", "", "")
		platformDir.userConfigDir = func() (string, error) { return "", errors.New("no appdata") }
		_, err := DefaultConfigDir()
		assert.Error(t, err)
	})
}

func TestDefaultUserDataDir(t *testing.T) {
	t.Run("linux uses XDG_DATA_HOME when set", func(t *testing.T) {
		withPlatform(t, "linux", "/home/ana", "")
		t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")
		got, err := DefaultUserDataDir()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/xdg-data/pantry", got)
	})

	t.Run("linux falls back to ~/.local/share", func(t *testing.T) {
		withPlatform(t, "linux", "/home/ana", "")
		t.Setenv("XDG_DATA_HOME", "")
		got, err := DefaultUserDataDir()
		require.NoError(t, err)
		assert.Equal(t, "/home/ana/.local/share/pantry", got)
	})

	t.Run("darwin matches config dir", func(t *testing.T) {
		withPlatform(t, "darwin", "/Users/ana", "/Users/ana/Library/Application Support")
		got, err := DefaultUserDataDir()
		require.NoError(t, err)
		assert.Equal(t, "/Users/ana/Library/Application Support/pantry", got)
	})
}

func TestResolveConfigDir(t *testing.T) {
	withPlatform(t, "linux", "/home/ana", "")
	t.Setenv("XDG_CONFIG_HOME", "")

	tests := []struct {
		name   string
		flag   string
		envVal string
		want   string
	}{
		{name: "flag wins over env", flag: "/explicit/config", envVal: "/env/config", want: "/explicit/config"},
		{name: "env wins when flag empty", envVal: "/env/config", want: "/env/config"},
		{name: "platform default when both empty", want: "/home/ana/.config/pantry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvConfigDir, tt.envVal)
			got, err := ResolveConfigDir(tt.flag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveDataDir(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	tests := []struct {
		name       string
		flag       string
		envVal     string
		configured string
		want       string
	}{
		{name: "flag wins over all", flag: "/flag/data", envVal: "/env/data", configured: "/config/data", want: "/flag/data"},
		{name: "env wins over config", envVal: "/env/data", configured: "/config/data", want: "/env/data"},
		{name: "config when flag and env empty", configured: "/config/data", want: "/config/data"},
		{name: "CWD default when all empty", want: filepath.Join(cwd, DefaultDataDirName)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvDataDir, tt.envVal)
			got, err := ResolveDataDir(tt.flag, tt.configured)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_RelativePathsBecomeAbsolute(t *testing.T) {
	t.Setenv(EnvConfigDir, "")
	t.Setenv(EnvDataDir, "")

	got, err := ResolveConfigDir("relative/path")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got), "expected absolute path, got %s", got)

	got, err = ResolveDataDir("", "relative/config")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got), "expected absolute path, got %s", got)
}

func TestConfigFile(t *testing.T) {
	assert.Equal(t, filepath.Join("/etc/pantry", "config.yaml"), ConfigFile("/etc/pantry"))
}
