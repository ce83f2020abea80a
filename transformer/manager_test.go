package transformer

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddielth/turbine-fleet/config"
	"github.com/eddielth/turbine-fleet/fleet"
)

func TestTransformAppliesScript(t *testing.T) {
	manager, err := NewManager(map[string]config.Transformer{
		"wind_speed": {ScriptCode: `function transform(s) { return convertSpeed(s.value, "m/s", "km/h"); }`},
		"make":       {ScriptCode: `function transform(s) { return s.value.toUpperCase(); }`},
	})
	require.NoError(t, err)

	v, err := manager.Transform("Turbine-001", "wind_speed", fleet.DoubleValue(10), 100)
	require.NoError(t, err)
	assert.InDelta(t, 36.0, v.Double, 1e-9)

	v, err = manager.Transform("Turbine-001", "make", fleet.StringValue("Amazon"), 100)
	require.NoError(t, err)
	assert.Equal(t, fleet.StringValue("AMAZON"), v)

	v, err = manager.Transform("Turbine-001", "rpm", fleet.DoubleValue(12.5), 100)
	require.NoError(t, err)
	assert.Equal(t, fleet.DoubleValue(12.5), v)

	assert.Equal(t, []string{"make", "wind_speed"}, manager.Properties())
}

func TestTransformSeesSampleFields(t *testing.T) {
	manager, err := NewManager(map[string]config.Transformer{
		"rpm": {ScriptCode: `function transform(s) {
			if (s.address !== "/" + s.asset + "/" + s.property) { throw new Error("bad address " + s.address); }
			return s.timestamp;
		}`},
	})
	require.NoError(t, err)

	v, err := manager.Transform("Turbine-002", "rpm", fleet.DoubleValue(1), 1700000000)
	require.NoError(t, err)
	assert.Equal(t, fleet.DoubleValue(1700000000), v)
}

func TestTransformRejectsBadResults(t *testing.T) {
	manager, err := NewManager(map[string]config.Transformer{
		"rpm":        {ScriptCode: `function transform(s) { return "fast"; }`},
		"torque":     {ScriptCode: `function transform(s) { return NaN; }`},
		"location":   {ScriptCode: `function transform(s) { return 7; }`},
		"wind_speed": {ScriptCode: `function transform(s) { throw new Error("sensor offline"); }`},
	})
	require.NoError(t, err)

	_, err = manager.Transform("Turbine-001", "rpm", fleet.DoubleValue(20), 100)
	assert.ErrorContains(t, err, "want a number")

	_, err = manager.Transform("Turbine-001", "torque", fleet.DoubleValue(200), 100)
	assert.ErrorContains(t, err, "non-finite")

	_, err = manager.Transform("Turbine-001", "location", fleet.StringValue("Renton"), 100)
	assert.ErrorContains(t, err, "want a string")

	_, err = manager.Transform("Turbine-001", "wind_speed", fleet.DoubleValue(9), 100)
	assert.ErrorContains(t, err, "sensor offline")
}

func TestNewManagerRejectsInvalidScripts(t *testing.T) {
	for name, cfg := range map[string]config.Transformer{
		"empty":        {},
		"syntax":       {ScriptCode: `function transform(s) {`},
		"no transform": {ScriptCode: `var x = 1;`},
		"not function": {ScriptCode: `var transform = 1;`},
		"missing file": {ScriptPath: "/nonexistent/transform.js"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewManager(map[string]config.Transformer{"rpm": cfg})
			assert.Error(t, err)
		})
	}
}

func TestReload(t *testing.T) {
	script := filepath.Join(t.TempDir(), "rpm.js")
	require.NoError(t, os.WriteFile(script, []byte(`function transform(s) { return s.value * 2; }`), 0644))

	manager, err := NewManager(map[string]config.Transformer{
		"rpm":    {ScriptPath: script},
		"torque": {ScriptCode: `function transform(s) { return 1; }`},
	})
	require.NoError(t, err)

	v, err := manager.Transform("Turbine-001", "rpm", fleet.DoubleValue(10), 100)
	require.NoError(t, err)
	assert.Equal(t, 20.0, v.Double)

	require.NoError(t, os.WriteFile(script, []byte(`function transform(s) { return clamp(s.value * 10, 10, 50); }`), 0644))
	err = manager.Reload(map[string]config.Transformer{
		"rpm":        {ScriptPath: script},
		"wind_speed": {ScriptCode: `function transform(s) {`},
	})
	assert.ErrorContains(t, err, "wind_speed")

	v, err = manager.Transform("Turbine-001", "rpm", fleet.DoubleValue(10), 100)
	require.NoError(t, err)
	assert.Equal(t, 50.0, v.Double)

	// torque was dropped from the configuration
	v, err = manager.Transform("Turbine-001", "torque", fleet.DoubleValue(321), 100)
	require.NoError(t, err)
	assert.Equal(t, 321.0, v.Double)
	assert.Equal(t, []string{"rpm"}, manager.Properties())
}

func TestTransformIsSafeForConcurrentCycles(t *testing.T) {
	manager, err := NewManager(map[string]config.Transformer{
		"rpm": {ScriptCode: `var calls = 0; function transform(s) { calls++; return s.value + 1; }`},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				v, err := manager.Transform("Turbine-001", "rpm", fleet.DoubleValue(float64(j)), 100)
				assert.NoError(t, err)
				assert.Equal(t, float64(j+1), v.Double)
			}
		}()
	}
	wg.Wait()
}

func TestConvertSpeed(t *testing.T) {
	assert.InDelta(t, 10.0, convertSpeed(36, "km/h", "M/S"), 1e-9)
	assert.InDelta(t, 19.438444924406, convertSpeed(10, "m/s", "kn"), 1e-9)
	assert.Equal(t, 7.0, convertSpeed(7, "furlong/fortnight", "m/s"))
}
