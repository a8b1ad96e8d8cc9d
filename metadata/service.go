package metadata

import (
	"context"

	"github.com/mohitkumar/txflow/logger"
	"github.com/mohitkumar/txflow/model"
	"go.uber.org/zap"
)

// StepGenerator asks the backend which approval and fee steps an intent needs.
type StepGenerator interface {
	GenerateSteps(ctx context.Context, intent model.Intent) (*model.StepPlan, error)
}

type GeneratorFunc func(ctx context.Context, intent model.Intent) (*model.StepPlan, error)

func (f GeneratorFunc) GenerateSteps(ctx context.Context, intent model.Intent) (*model.StepPlan, error) {
	return f(ctx, intent)
}

// Plan is a resolved step sequence with the submit parameters of each step.
type Plan struct {
	Steps  []model.Step
	Params map[model.StepName]map[string]any
}

type Service interface {
	Resolve(ctx context.Context, intent model.Intent) (*Plan, error)
}

type ServiceImpl struct {
	generator StepGenerator
}

func NewService(generator StepGenerator) Service {
	return &ServiceImpl{
		generator: generator,
	}
}

func (s *ServiceImpl) Resolve(ctx context.Context, intent model.Intent) (*Plan, error) {
	if _, err := Lookup(intent.Type); err != nil {
		return nil, err
	}
	var stepPlan *model.StepPlan
	if s.generator != nil {
		var err error
		stepPlan, err = s.generator.GenerateSteps(ctx, intent)
		if err != nil {
			logger.Error("error generating steps", zap.String("flow", string(intent.Type)), zap.Error(err))
			return nil, model.StructuralError{Message: "step generation failed", Cause: err}
		}
	}
	steps, err := Steps(intent, stepPlan)
	if err != nil {
		return nil, err
	}
	plan := &Plan{
		Steps:  steps,
		Params: make(map[model.StepName]map[string]any),
	}
	if stepPlan != nil {
		for _, d := range stepPlan.Steps {
			if len(d.Params) > 0 {
				plan.Params[d.Name] = d.Params
			}
		}
		final := steps[len(steps)-1].Name
		if len(stepPlan.FinalParams) > 0 {
			plan.Params[final] = stepPlan.FinalParams
		}
	}
	logger.Debug("resolved steps", zap.String("flow", string(intent.Type)), zap.Int("count", len(steps)))
	return plan, nil
}
