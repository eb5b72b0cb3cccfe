package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	file := filepath.Join(t.TempDir(), "chatline.yaml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))
	return file
}

func TestLoadConfig(t *testing.T) {
	file := writeConfig(t, `
server:
  url: https://chat.example.com/
credential:
  store: memory
log:
  level: debug
  format: json
request:
  timeout: 3s
serve:
  port: 9000
  secret: c2VjcmV0
  allowed_origins: https://a.example.com,https://b.example.com
`)

	config, err := LoadConfig(viper.New(), file)
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com/", config.Server.URL)
	assert.Equal(t, CredentialStoreMemory, config.Credential.Store)
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, "json", config.Log.Format)
	assert.Equal(t, 3*time.Second, config.Request.Timeout)
	assert.Equal(t, 9000, config.Serve.Port)
	assert.Equal(t, Base64Encoded("secret"), config.Serve.Secret)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, config.Serve.AllowedOrigins)

	pushURL, err := config.PushURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/ws", pushURL)
}

func TestLoadConfig_Defaults(t *testing.T) {
	file := writeConfig(t, "{}")

	config, err := LoadConfig(viper.New(), file)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4000", config.Server.URL)
	assert.Equal(t, CredentialStoreSQLite, config.Credential.Store)
	assert.NotEmpty(t, config.Credential.File)
	assert.Equal(t, 15*time.Second, config.Request.Timeout)
	assert.Equal(t, 4000, config.Serve.Port)
	assert.Equal(t, []string{"*"}, config.Serve.AllowedOrigins)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	file := writeConfig(t, "server:\n  url: http://file.example.com\n")
	t.Setenv("CHATLINE_SERVER_URL", "http://env.example.com:8080")
	t.Setenv("CHATLINE_SERVER_WS_URL", "ws://push.example.com/socket")

	config, err := LoadConfig(viper.New(), file)
	require.NoError(t, err)
	assert.Equal(t, "http://env.example.com:8080", config.Server.URL)

	pushURL, err := config.PushURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://push.example.com/socket", pushURL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tcs := []struct {
		name    string
		content string
		field   string
	}{
		{name: "store", content: "credential:\n  store: redis\n", field: "credential.store"},
		{name: "url", content: "server:\n  url: not a url\n", field: "server.url"},
		{name: "log level", content: "log:\n  level: loud\n", field: "log.level"},
		{name: "port", content: "serve:\n  port: 70000\n", field: "serve.port"},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(viper.New(), writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPushURL(t *testing.T) {
	tcs := map[string]string{
		"http://localhost:4000":        "ws://localhost:4000/ws",
		"https://chat.example.com":     "wss://chat.example.com/ws",
		"http://example.com/chat/api/": "ws://example.com/chat/api/ws",
	}
	for in, want := range tcs {
		var c Config
		c.Server.URL = in
		got, err := c.PushURL()
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}
