package transformer

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/eddielth/turbine-fleet/config"
	"github.com/eddielth/turbine-fleet/fleet"
	"github.com/eddielth/turbine-fleet/logger"
)

// Manager holds one script transformer per property external id
type Manager struct {
	transformers map[string]*Transformer
	mutex        sync.RWMutex
}

// Transformer runs the `transform(sample)` function of one script.
// A goja runtime is not safe for concurrent use, so calls are serialized.
type Transformer struct {
	mu         sync.Mutex
	vm         *goja.Runtime
	transform  goja.Callable
	scriptPath string
}

// NewManager compiles a transformer for every configured property
func NewManager(configs map[string]config.Transformer) (*Manager, error) {
	manager := &Manager{
		transformers: make(map[string]*Transformer),
	}

	for externalID, cfg := range configs {
		transformer, err := load(cfg)
		if err != nil {
			return nil, fmt.Errorf("create transformer for property %s failed: %w", externalID, err)
		}

		manager.transformers[externalID] = transformer
		logger.Info("loaded transformer for property %s", externalID)
	}

	return manager, nil
}

func load(cfg config.Transformer) (*Transformer, error) {
	var scriptCode string

	// inline code wins over the script file
	if cfg.ScriptCode != "" {
		scriptCode = cfg.ScriptCode
	} else if cfg.ScriptPath != "" {
		scriptBytes, err := os.ReadFile(cfg.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("cannot load script file %s: %w", cfg.ScriptPath, err)
		}
		scriptCode = string(scriptBytes)
	} else {
		return nil, fmt.Errorf("neither script_code nor script_path provided")
	}

	return newTransformer(scriptCode, cfg.ScriptPath)
}

func newTransformer(scriptCode, scriptPath string) (*Transformer, error) {
	vm := goja.New()

	_ = vm.Set("log", func(msg string) {
		logger.Info("[JS] %s", msg)
	})

	_ = vm.Set("formatDate", func(timestamp int64, format string) string {
		if format == "" {
			format = "2006-01-02 15:04:05"
		}
		return time.Unix(timestamp, 0).Format(format)
	})

	_ = vm.Set("convertSpeed", convertSpeed)

	_ = vm.Set("validateRange", func(value float64, min float64, max float64) bool {
		return value >= min && value <= max
	})

	_ = vm.Set("clamp", func(value float64, min float64, max float64) float64 {
		return math.Max(min, math.Min(max, value))
	})

	if _, err := vm.RunString(scriptCode); err != nil {
		return nil, fmt.Errorf("run script failed: %w", err)
	}

	transformValue := vm.Get("transform")
	if transformValue == nil {
		return nil, fmt.Errorf("script does not define a 'transform' function")
	}

	transform, ok := goja.AssertFunction(transformValue)
	if !ok {
		return nil, fmt.Errorf("'transform' is not a function")
	}

	return &Transformer{
		vm:         vm,
		transform:  transform,
		scriptPath: scriptPath,
	}, nil
}

// convertSpeed converts between m/s, km/h, mph and kn; unknown units return the value unchanged
func convertSpeed(value float64, fromUnit string, toUnit string) float64 {
	perMeterPerSecond := map[string]float64{
		"M/S":  1,
		"KM/H": 3.6,
		"MPH":  2.2369362920544,
		"KN":   1.9438444924406,
	}
	from, ok := perMeterPerSecond[strings.ToUpper(fromUnit)]
	if !ok {
		return value
	}
	to, ok := perMeterPerSecond[strings.ToUpper(toUnit)]
	if !ok {
		return value
	}
	return value / from * to
}

// Transform passes a value through the script registered for externalID. The script
// receives {asset, property, address, value, timestamp} and returns the new value.
// Properties without a script are returned unchanged.
func (m *Manager) Transform(assetName, externalID string, value fleet.Value, timestamp int64) (fleet.Value, error) {
	m.mutex.RLock()
	transformer, exists := m.transformers[externalID]
	m.mutex.RUnlock()

	if !exists {
		return value, nil
	}

	var input any = value.String
	if value.Type == fleet.Double {
		input = value.Double
	}

	result, err := transformer.call(map[string]any{
		"asset":     assetName,
		"property":  externalID,
		"address":   fleet.Address(assetName, externalID),
		"value":     input,
		"timestamp": timestamp,
	})
	if err != nil {
		return fleet.Value{}, fmt.Errorf("transform %s failed: %w", fleet.Address(assetName, externalID), err)
	}

	return coerce(value.Type, result)
}

func (t *Transformer) call(sample map[string]any) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	result, err := t.transform(goja.Undefined(), t.vm.ToValue(sample))
	if err != nil {
		return nil, err
	}
	return result.Export(), nil
}

// coerce maps the exported script result back onto the property data type
func coerce(dataType fleet.DataType, result any) (fleet.Value, error) {
	switch dataType {
	case fleet.Double:
		var f float64
		switch v := result.(type) {
		case float64:
			f = v
		case int64:
			f = float64(v)
		default:
			return fleet.Value{}, fmt.Errorf("script returned %T, want a number", result)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fleet.Value{}, fmt.Errorf("script returned non-finite number %v", f)
		}
		return fleet.DoubleValue(f), nil
	case fleet.String:
		s, ok := result.(string)
		if !ok {
			return fleet.Value{}, fmt.Errorf("script returned %T, want a string", result)
		}
		return fleet.StringValue(s), nil
	default:
		return fleet.Value{}, fmt.Errorf("unsupported data type %q", dataType)
	}
}

// Properties lists the external ids that have a transformer
func (m *Manager) Properties() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]string, 0, len(m.transformers))
	for externalID := range m.transformers {
		out = append(out, externalID)
	}
	sort.Strings(out)
	return out
}

// ReloadTransformer recompiles the transformer of one property
func (m *Manager) ReloadTransformer(externalID string, cfg config.Transformer) error {
	transformer, err := load(cfg)
	if err != nil {
		return fmt.Errorf("create transformer failed: %w", err)
	}

	m.mutex.Lock()
	m.transformers[externalID] = transformer
	m.mutex.Unlock()

	logger.Info("reloaded transformer for property %s", externalID)
	return nil
}

// Reload applies a full transformer configuration: changed scripts are recompiled and
// properties no longer configured lose their transformer. A script that fails to compile
// keeps its previous version.
func (m *Manager) Reload(configs map[string]config.Transformer) error {
	var failed []string
	for externalID, cfg := range configs {
		if err := m.ReloadTransformer(externalID, cfg); err != nil {
			logger.Error("reload transformer %s failed: %v", externalID, err)
			failed = append(failed, externalID)
		}
	}

	m.mutex.Lock()
	for externalID := range m.transformers {
		if _, ok := configs[externalID]; !ok {
			delete(m.transformers, externalID)
			logger.Info("removed transformer for property %s", externalID)
		}
	}
	m.mutex.Unlock()

	if len(failed) > 0 {
		sort.Strings(failed)
		return fmt.Errorf("transformers failed to reload: %s", strings.Join(failed, ", "))
	}
	return nil
}
