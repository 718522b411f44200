package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"persona-eval/internal/domain"
)

// SensitivityPath devuelve runs/sensitivity_<trait>_grad.json.
func SensitivityPath(runsDir string, trait domain.TraitCode) string {
	return filepath.Join(runsDir, fmt.Sprintf("sensitivity_%s_grad.json", trait))
}

// SaveSensitivity escribe el ajuste; NaN se serializa como null.
func SaveSensitivity(path string, fit domain.SensitivityFit) error {
	if fit.Pairs == nil {
		fit.Pairs = []domain.SensitivityPair{}
	}
	data, err := json.MarshalIndent(fit, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sensitivity: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write sensitivity: %w", err)
	}
	return nil
}

// LoadSensitivity lee el ajuste; null vuelve como NaN.
func LoadSensitivity(path string) (domain.SensitivityFit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.SensitivityFit{}, fmt.Errorf("read sensitivity: %w", err)
	}
	fit := domain.SensitivityFit{Slope: domain.NaN(), Intercept: domain.NaN(), R2: domain.NaN()}
	if err := json.Unmarshal(data, &fit); err != nil {
		return domain.SensitivityFit{}, fmt.Errorf("parse sensitivity %s: %w", path, err)
	}
	return fit, nil
}
