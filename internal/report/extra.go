package report

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
)

// Members the model adds beyond the known schema are kept in Extra maps and
// written back on encoding.

type (
	reportFields     Report
	creditFields     CreditRecommendation
	metricFields     Metric
	keyMetricsFields KeyMetrics
	ratiosFields     Ratios
)

func (r *Report) UnmarshalJSON(data []byte) error {
	return decodeKeepingExtra(data, (*reportFields)(r), &r.Extra)
}

func (r Report) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(reportFields(r), r.Extra)
}

func (c *CreditRecommendation) UnmarshalJSON(data []byte) error {
	return decodeKeepingExtra(data, (*creditFields)(c), &c.Extra)
}

func (c CreditRecommendation) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(creditFields(c), c.Extra)
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	return decodeKeepingExtra(data, (*metricFields)(m), &m.Extra)
}

func (m Metric) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(metricFields(m), m.Extra)
}

func (k *KeyMetrics) UnmarshalJSON(data []byte) error {
	return decodeKeepingExtra(data, (*keyMetricsFields)(k), &k.Extra)
}

func (k KeyMetrics) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(keyMetricsFields(k), k.Extra)
}

func (r *Ratios) UnmarshalJSON(data []byte) error {
	return decodeKeepingExtra(data, (*ratiosFields)(r), &r.Extra)
}

func (r Ratios) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(ratiosFields(r), r.Extra)
}

// decodeKeepingExtra decodes data into v, a pointer to a method-less struct,
// and stores the object members that match none of its fields in extra.
func decodeKeepingExtra(data []byte, v any, extra *map[string]json.RawMessage) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	// Field matching in encoding/json ignores case, so does this.
	names := jsonNames(reflect.TypeOf(v).Elem())
	for key := range members {
		for _, name := range names {
			if strings.EqualFold(key, name) {
				delete(members, key)
				break
			}
		}
	}
	if len(members) > 0 {
		*extra = members
	}
	return nil
}

func encodeWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, err
	}
	for name, value := range extra {
		if _, ok := members[name]; !ok {
			members[name] = value
		}
	}
	return json.Marshal(members)
}

// jsonNames lists the encoded member names of a struct type's fields.
func jsonNames(t reflect.Type) []string {
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" || !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		names = append(names, name)
	}
	return names
}
