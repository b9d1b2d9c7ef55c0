package report

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TobiSchelling/finanalyzer/internal/llm"
)

// ErrInvalidFormat is returned when the reply holds no brace-delimited object.
var ErrInvalidFormat = errors.New("Invalid response format from API")

// Extract parses the report out of a free-form model reply. There is no
// repair attempt: a missing or malformed object is an error.
func Extract(text string) (*Report, error) {
	raw, ok := llm.ExtractJSONObject(text)
	if !ok {
		return nil, ErrInvalidFormat
	}

	var r Report
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("parsing report JSON: %w", err)
	}
	return &r, nil
}
