package registration

import (
	"fmt"

	"github.com/shaiso/storebridge/internal/domain"
	"github.com/shaiso/storebridge/internal/ratelimit"
)

// Step — имя шага регистрации.
type Step string

const (
	StepValidate Step = "validate"
	StepPrepare  Step = "prepare"
	StepUpload   Step = "upload"
	StepRegister Step = "register"
)

// StepDef — описание шага.
type StepDef struct {
	// Name — имя шага.
	Name Step

	// Phase — состояние, в котором выполняется шаг.
	Phase domain.ItemState

	// Next — состояние после успеха.
	Next domain.ItemState

	// Resource — ресурс rate limiter. Пусто для локальных шагов.
	Resource string
}

// Outbound возвращает true, если шаг делает внешний вызов.
func (d StepDef) Outbound() bool {
	return d.Resource != ""
}

var steps = map[domain.ItemState]StepDef{
	domain.ItemStatePending: {
		Name: StepValidate, Phase: domain.ItemStatePending, Next: domain.ItemStateValidated,
	},
	domain.ItemStateValidated: {
		Name: StepPrepare, Phase: domain.ItemStateValidated, Next: domain.ItemStateUploading,
	},
	domain.ItemStateUploading: {
		Name: StepUpload, Phase: domain.ItemStateUploading, Next: domain.ItemStateRegistering,
		Resource: ratelimit.ResourceMarketplace,
	},
	domain.ItemStateRegistering: {
		Name: StepRegister, Phase: domain.ItemStateRegistering, Next: domain.ItemStateCompleted,
		Resource: ratelimit.ResourceMarketplace,
	},
}

// StepFor возвращает шаг для фазы item.
func StepFor(phase domain.ItemState) (StepDef, error) {
	def, ok := steps[phase]
	if !ok {
		return StepDef{}, fmt.Errorf("%w: %s", ErrNoStep, phase)
	}
	return def, nil
}
