package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"persona-eval/internal/domain"
)

// ErrInvalidPlan envuelve cualquier inconsistencia del plan de experimentos.
var ErrInvalidPlan = errors.New("invalid experiment plan")

var planValidate *validator.Validate

func init() {
	planValidate = validator.New()
	_ = planValidate.RegisterValidation("trait", func(fl validator.FieldLevel) bool {
		_, ok := domain.ParseTraitCode(fl.Field().String())
		return ok
	})
}

type planFile struct {
	ID          string          `yaml:"id" validate:"required"`
	Baseline    string          `yaml:"baseline" validate:"required"`
	Seeds       []*int          `yaml:"seeds" validate:"required,min=1"`
	OrderSeeds  []*int          `yaml:"order_seeds" validate:"required,min=1"`
	Conditions  []conditionFile `yaml:"conditions" validate:"required,min=1,dive"`
	Sensitivity *familyFile     `yaml:"sensitivity" validate:"omitempty"`
}

type conditionFile struct {
	Name    string             `yaml:"name" validate:"required"`
	Persona map[string]float64 `yaml:"persona" validate:"required,dive,keys,trait,endkeys,gte=1,lte=5"`
	Target  string             `yaml:"target" validate:"omitempty,trait"`
}

type familyFile struct {
	Trait     string      `yaml:"trait" validate:"required,trait"`
	Seed      *int        `yaml:"seed"`
	OrderSeed *int        `yaml:"order_seed"`
	Points    []pointFile `yaml:"points" validate:"required,min=2,dive"`
}

type pointFile struct {
	Condition string  `yaml:"condition" validate:"required"`
	Magnitude float64 `yaml:"magnitude" validate:"gte=1,lte=5"`
}

// LoadPlan lee un plan YAML; con path vacio devuelve DefaultPlan.
func LoadPlan(path string) (domain.ExperimentPlan, error) {
	if path == "" {
		return DefaultPlan(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ExperimentPlan{}, fmt.Errorf("read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodifica y valida un plan YAML.
func ParsePlan(data []byte) (domain.ExperimentPlan, error) {
	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return domain.ExperimentPlan{}, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if err := planValidate.Struct(pf); err != nil {
		return domain.ExperimentPlan{}, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}

	plan := domain.ExperimentPlan{
		ID:         pf.ID,
		Baseline:   pf.Baseline,
		Seeds:      pf.Seeds,
		OrderSeeds: pf.OrderSeeds,
	}
	for _, cf := range pf.Conditions {
		raw := make(map[string]any, len(cf.Persona))
		for k, v := range cf.Persona {
			raw[k] = v
		}
		cond := domain.ExperimentCondition{Name: cf.Name, Persona: domain.NormalizePersona(raw)}
		if cf.Target != "" {
			code, _ := domain.ParseTraitCode(cf.Target)
			cond.TargetTrait = &code
		}
		plan.Conditions = append(plan.Conditions, cond)
	}
	if pf.Sensitivity != nil {
		code, _ := domain.ParseTraitCode(pf.Sensitivity.Trait)
		family := &domain.SensitivityFamily{
			Trait:     code,
			Seed:      pf.Sensitivity.Seed,
			OrderSeed: pf.Sensitivity.OrderSeed,
		}
		for _, p := range pf.Sensitivity.Points {
			family.Points = append(family.Points, domain.SensitivityPoint{Condition: p.Condition, Magnitude: p.Magnitude})
		}
		plan.Sensitivity = family
	}

	if err := ValidatePlan(plan); err != nil {
		return domain.ExperimentPlan{}, err
	}
	return plan, nil
}

// ValidatePlan verifica las reglas que cruzan campos: nombres unicos, baseline sin target,
// y familia de sensibilidad apuntando a condiciones existentes.
func ValidatePlan(plan domain.ExperimentPlan) error {
	seen := make(map[string]struct{}, len(plan.Conditions))
	for _, c := range plan.Conditions {
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: condicion duplicada %q", ErrInvalidPlan, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	base, ok := plan.Condition(plan.Baseline)
	if !ok {
		return fmt.Errorf("%w: baseline %q no esta entre las condiciones", ErrInvalidPlan, plan.Baseline)
	}
	if base.TargetTrait != nil {
		return fmt.Errorf("%w: baseline %q no puede tener target", ErrInvalidPlan, plan.Baseline)
	}
	if plan.Sensitivity != nil {
		for _, p := range plan.Sensitivity.Points {
			if _, ok := plan.Condition(p.Condition); !ok {
				return fmt.Errorf("%w: condicion de sensibilidad %q desconocida", ErrInvalidPlan, p.Condition)
			}
		}
	}
	return nil
}

func neutralPersona() domain.PersonaVector {
	p := make(domain.PersonaVector, len(domain.TraitOrder))
	for _, code := range domain.TraitOrder {
		p[code] = domain.PersonaDefault
	}
	return p
}

func withTrait(code domain.TraitCode, value float64) domain.PersonaVector {
	p := neutralPersona()
	p[code] = value
	return p
}

// DefaultPlan es la matriz estandar: 9 condiciones x 3 seeds x 2 ordenes, familia E_20..E_50.
func DefaultPlan() domain.ExperimentPlan {
	e := domain.TraitPtr(domain.TraitExtraversion)
	return domain.ExperimentPlan{
		ID:       "mpi-default",
		Baseline: "NEUTRAL",
		Conditions: []domain.ExperimentCondition{
			{Name: "NEUTRAL", Persona: neutralPersona()},
			{Name: "E_HIGH", Persona: withTrait(domain.TraitExtraversion, 4.5), TargetTrait: e},
			{Name: "C_HIGH", Persona: withTrait(domain.TraitConscientiousness, 4.5), TargetTrait: domain.TraitPtr(domain.TraitConscientiousness)},
			{Name: "N_LOW", Persona: withTrait(domain.TraitNeuroticism, 2.0), TargetTrait: domain.TraitPtr(domain.TraitNeuroticism)},
			{Name: "E_20", Persona: withTrait(domain.TraitExtraversion, 2.0), TargetTrait: e},
			{Name: "E_30", Persona: withTrait(domain.TraitExtraversion, 3.0), TargetTrait: e},
			{Name: "E_40", Persona: withTrait(domain.TraitExtraversion, 4.0), TargetTrait: e},
			{Name: "E_50", Persona: withTrait(domain.TraitExtraversion, 5.0), TargetTrait: e},
			{Name: "TEST_USER", Persona: domain.PersonaVector{
				domain.TraitOpenness:          3.0,
				domain.TraitConscientiousness: 4.2,
				domain.TraitExtraversion:      4.5,
				domain.TraitAgreeableness:     3.0,
				domain.TraitNeuroticism:       2.1,
			}},
		},
		Seeds:      []*int{domain.IntPtr(111), domain.IntPtr(222), domain.IntPtr(333)},
		OrderSeeds: []*int{nil, domain.IntPtr(7)},
		Sensitivity: &domain.SensitivityFamily{
			Trait: domain.TraitExtraversion,
			Seed:  domain.IntPtr(111),
			Points: []domain.SensitivityPoint{
				{Condition: "E_20", Magnitude: 2.0},
				{Condition: "E_30", Magnitude: 3.0},
				{Condition: "E_40", Magnitude: 4.0},
				{Condition: "E_50", Magnitude: 5.0},
			},
		},
	}
}
