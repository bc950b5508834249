package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/connector/internal/config"
	"github.com/roach88/connector/internal/transport"
)

const (
	consumerID     = "https://consumer.example"
	weatherArt     = "https://provider.example/api/artifacts/weather"
	weatherRes     = "https://provider.example/api/resources/weather"
	weatherCSV     = "hour,temp\n0,11.5\n"
	catalogPackage = `package catalog

offer: weather: {
	id: "https://provider.example/api/offers/weather"
	permission: [{
		target: "https://provider.example/api/artifacts/weather"
		action: "USE"
		constraint: [{left: "COUNT", op: "LTEQ", right: 2}]
	}]
}

resource: weather: {
	id:    "https://provider.example/api/resources/weather"
	title: "Weather data"
	representation: [{
		id:        "https://provider.example/api/representations/weather"
		mediaType: "text/csv"
		artifact: [{id: "https://provider.example/api/artifacts/weather", file: "weather.csv"}]
	}]
}
`
)

// execute runs the root command with args and returns everything it wrote.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWithInput(t, "", args...)
}

func executeWithInput(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeConfig(t *testing.T, dir, id string) string {
	t.Helper()
	path := filepath.Join(dir, "connector.yaml")
	content := fmt.Sprintf(`connector_id: %s
title: test connector
listen: 127.0.0.1:0
database: %s
token: %s-token
`, id, filepath.Join(dir, "connector.db"), filepath.Base(dir))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.cue"), []byte(catalogPackage), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weather.csv"), []byte(weatherCSV), 0o644))
	return dir
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// startProvider imports the test catalog into a fresh provider and serves
// it over HTTP. The provider id is its server URL.
func startProvider(t *testing.T) string {
	t.Helper()
	srv := httptest.NewUnstartedServer(nil)
	id := "http://" + srv.Listener.Addr().String()
	cfgPath := writeConfig(t, t.TempDir(), id)

	_, err := execute(t, "--config", cfgPath, "offers", "import", writeCatalog(t))
	require.NoError(t, err)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	d, err := a.dispatcher()
	require.NoError(t, err)

	srv.Config.Handler = transport.NewRouter(d, "provider")
	srv.Start()
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	return id
}

type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decodeResponse(t *testing.T, out string, data any) response {
	t.Helper()
	var resp response
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	if data != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp
}
