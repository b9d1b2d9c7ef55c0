package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Value is a scalar figure as the model sent it: a number, a string such as
// "N/A", or null. The zero Value is null. The original JSON text is kept so
// a report re-encodes exactly as it was received.
type Value struct {
	raw json.RawMessage
}

// Number returns a numeric Value.
func Number(f float64) Value {
	data, _ := json.Marshal(f)
	return Value{raw: data}
}

// Text returns a string Value.
func Text(s string) Value {
	data, _ := json.Marshal(s)
	return Value{raw: data}
}

func (v Value) IsNull() bool {
	return len(v.raw) == 0 || bytes.Equal(v.raw, []byte("null"))
}

func (v Value) isString() bool {
	return len(v.raw) > 0 && v.raw[0] == '"'
}

// Float returns the value when it is a JSON number.
func (v Value) Float() (float64, bool) {
	if v.IsNull() || v.isString() {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(v.raw), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// String returns a number in plain decimal notation, a string as is and
// null as "".
func (v Value) String() string {
	if v.IsNull() {
		return ""
	}
	if v.isString() {
		var s string
		_ = json.Unmarshal(v.raw, &s)
		return s
	}
	if f, ok := v.Float(); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return string(v.raw)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if len(v.raw) == 0 {
		return []byte("null"), nil
	}
	return v.raw, nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	switch c := data[0]; {
	case c == 'n':
		*v = Value{}
		return nil
	case c == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
	default:
		return fmt.Errorf("expected a number, string or null, got %s", data)
	}
	v.raw = append(json.RawMessage(nil), data...)
	return nil
}
