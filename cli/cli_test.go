package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddielth/turbine-fleet/ingest"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(context.Background())
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

const testConfig = `
generator:
  seed: 7
logger:
  level: warn
`

func TestValidate(t *testing.T) {
	out, err := run(t, "validate", "--config", writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Contains(t, out, "4 assets of model WindTurbine")
	assert.Contains(t, out, "24 addresses")
	assert.Contains(t, out, "memory backend")
}

func TestValidateRejectsInvalidConfig(t *testing.T) {
	_, err := run(t, "validate", "--config", writeConfig(t, "storage:\n  backend: cassandra\n"))
	assert.Error(t, err)
}

func TestExplicitConfigMustExist(t *testing.T) {
	_, err := run(t, "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestIngest(t *testing.T) {
	out, err := run(t, "ingest", "--config", writeConfig(t, testConfig), "--cycles", "1")
	require.NoError(t, err)

	var report ingest.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 24, report.Total)
	assert.Equal(t, 24, report.Succeeded)
	assert.Empty(t, report.Failed)
}

func TestIngestRejectsZeroCycles(t *testing.T) {
	_, err := run(t, "ingest", "--config", writeConfig(t, testConfig), "--cycles", "0")
	assert.Error(t, err)
}

func TestQuery(t *testing.T) {
	path := writeConfig(t, testConfig)

	for name, tc := range map[string]struct {
		args []string
		want []string
	}{
		"empty store": {
			args: nil,
			want: []string{},
		},
		// every generated rpm is at least 10
		"low rpm threshold": {
			args: []string{"--ingest", "1", "--rpm-threshold", "5"},
			want: []string{"Turbine-001", "Turbine-002", "Turbine-003", "Turbine-004"},
		},
		"other location": {
			args: []string{"--ingest", "1", "--rpm-threshold", "5", "--location", "Seattle"},
			want: []string{},
		},
		"filter json": {
			args: []string{"--ingest", "1", "--filter", `{"make":"Vestas","rpm_threshold":5}`},
			want: []string{},
		},
		// the flag wins over the JSON filter
		"flag over filter": {
			args: []string{"--ingest", "1", "--filter", `{"make":"Vestas"}`, "--make", "Amazon", "--rpm-threshold", "5"},
			want: []string{"Turbine-001", "Turbine-002", "Turbine-003", "Turbine-004"},
		},
	} {
		t.Run(name, func(t *testing.T) {
			out, err := run(t, append([]string{"query", "--config", path}, tc.args...)...)
			require.NoError(t, err)

			var result queryOutput
			require.NoError(t, json.Unmarshal([]byte(out), &result))
			names := make([]string, 0, len(result.Assets))
			for _, ref := range result.Assets {
				names = append(names, ref.AssetName)
			}
			assert.Equal(t, tc.want, names)
		})
	}
}

func TestQueryDefaultsFromConfig(t *testing.T) {
	path := writeConfig(t, testConfig+"query:\n  defaults:\n    location: Seattle\n")

	out, err := run(t, "query", "--config", path, "--rpm-threshold", "5")
	require.NoError(t, err)

	var result queryOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "Seattle", result.Filter.Location)
	assert.Equal(t, "Amazon", result.Filter.Make)
	assert.Equal(t, 5.0, result.Filter.RPMThreshold)
}

func TestQueryRejectsInvalidFilter(t *testing.T) {
	path := writeConfig(t, testConfig)

	_, err := run(t, "query", "--config", path, "--rpm-threshold", "NaN")
	assert.ErrorContains(t, err, "invalid filter")

	_, err = run(t, "query", "--config", path, "--filter", `{"rpm_threshold":"high"}`)
	assert.ErrorContains(t, err, "invalid filter")
}
