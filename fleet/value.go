package fleet

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Value is a typed property value, either a string or a double
type Value struct {
	Type   DataType
	String string
	Double float64
}

// StringValue builds a STRING value
func StringValue(s string) Value {
	return Value{Type: String, String: s}
}

// DoubleValue builds a DOUBLE value
func DoubleValue(f float64) Value {
	return Value{Type: Double, Double: f}
}

// Format renders the value without its type tag
func (v Value) Format() string {
	if v.Type == Double {
		return strconv.FormatFloat(v.Double, 'f', -1, 64)
	}
	return v.String
}

func (v Value) GoString() string {
	return fmt.Sprintf("%s(%s)", v.Type, v.Format())
}

type wireValue struct {
	StringValue *string  `json:"stringValue,omitempty"`
	DoubleValue *float64 `json:"doubleValue,omitempty"`
}

// MarshalJSON encodes the value as {"stringValue": ...} or {"doubleValue": ...}
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case String:
		s := v.String
		return json.Marshal(wireValue{StringValue: &s})
	case Double:
		d := v.Double
		return json.Marshal(wireValue{DoubleValue: &d})
	default:
		return nil, fmt.Errorf("cannot encode value of type %q", v.Type)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.StringValue != nil && w.DoubleValue != nil:
		return fmt.Errorf("value cannot be both string and double")
	case w.StringValue != nil:
		*v = StringValue(*w.StringValue)
	case w.DoubleValue != nil:
		*v = DoubleValue(*w.DoubleValue)
	default:
		return fmt.Errorf("value has neither stringValue nor doubleValue")
	}
	return nil
}

// PropertyValue is one timestamped value at an address
type PropertyValue struct {
	Address   string `json:"address"`
	Value     Value  `json:"value"`
	Timestamp int64  `json:"timestamp"`
}
