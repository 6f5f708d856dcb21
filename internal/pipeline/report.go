// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// WriteReport saves a run report as YAML.
func WriteReport(path string, rep *Report) error {
	data, err := yaml.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshaling run report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run report: %w", err)
	}
	var rep Report
	if err := yaml.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("parsing run report: %w", err)
	}
	return &rep, nil
}
