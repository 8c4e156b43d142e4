package registration

import (
	"fmt"
	"time"

	"github.com/shaiso/storebridge/internal/domain"
)

// Outcome — исход попытки шага.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeValidation
	OutcomeTransient
	OutcomeFatal
	OutcomeRateLimited
)

// String возвращает имя исхода для логов и метрик.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeValidation:
		return "validation"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Classify переводит класс ошибки ответа внешнего API в исход шага.
// AuthExpired доходит сюда только после неудачной повторной авторизации и считается временной ошибкой.
// RateLimited здесь означает 429 от сервера: запрос уже ушёл, попытка расходует RetryCount.
// OutcomeRateLimited вызывающий выставляет сам, когда бюджет не получен и вызова не было.
func Classify(kind domain.ErrorKind) Outcome {
	switch kind {
	case "":
		return OutcomeSuccess
	case domain.ErrorKindValidationRejected:
		return OutcomeValidation
	case domain.ErrorKindFatal:
		return OutcomeFatal
	default:
		return OutcomeTransient
	}
}

// Snapshot — часть item, от которой зависит переход.
type Snapshot struct {
	State       domain.ItemState
	ResumeState domain.ItemState
	RetryCount  int
}

// SnapshotOf строит Snapshot из item.
func SnapshotOf(item *domain.Item) Snapshot {
	return Snapshot{State: item.State, ResumeState: item.ResumeState, RetryCount: item.RetryCount}
}

// Phase возвращает фазу, шаг которой выполняется.
func (s Snapshot) Phase() domain.ItemState {
	if s.State == domain.ItemStateRetrying {
		return s.ResumeState
	}
	return s.State
}

// Policy — параметры переходов.
type Policy struct {
	Retry domain.RetryPolicy

	// RateLimitConsumesRetry — отказ rate limiter считается временной ошибкой
	// и расходует RetryCount. По умолчанию отказ только откладывает шаг.
	RateLimitConsumesRetry bool

	// RateLimitDelay — задержка перед повтором после отказа rate limiter.
	RateLimitDelay time.Duration
}

// Decision — результат перехода.
type Decision struct {
	Next       domain.ItemState
	Resume     domain.ItemState
	RetryCount int
	Backoff    time.Duration
}

// Retrying возвращает true, если item нужно запланировать повторно.
func (d Decision) Retrying() bool {
	return d.Next == domain.ItemStateRetrying
}

// Transition вычисляет следующее состояние item.
//
//   - success     → следующий шаг (или COMPLETED)
//   - validation  → MANUAL_REVIEW, RetryCount не меняется
//   - fatal       → FAILED
//   - transient   → RetryCount+1; RETRYING с задержкой Backoff(RetryCount) или FAILED при исчерпании
//   - rate limited → бюджет не получен: RETRYING без расхода RetryCount (или как transient, см. Policy)
func Transition(s Snapshot, o Outcome, p Policy) (Decision, error) {
	if s.State.IsTerminal() {
		return Decision{}, fmt.Errorf("%w: %s", ErrTerminalState, s.State)
	}

	phase := s.Phase()
	step, err := StepFor(phase)
	if err != nil {
		return Decision{}, err
	}

	if o == OutcomeRateLimited && p.RateLimitConsumesRetry {
		o = OutcomeTransient
	}

	switch o {
	case OutcomeSuccess:
		return Decision{Next: step.Next, RetryCount: s.RetryCount}, nil

	case OutcomeValidation:
		return Decision{Next: domain.ItemStateManualReview, RetryCount: s.RetryCount}, nil

	case OutcomeFatal:
		return Decision{Next: domain.ItemStateFailed, RetryCount: s.RetryCount}, nil

	case OutcomeRateLimited:
		return Decision{
			Next:       domain.ItemStateRetrying,
			Resume:     phase,
			RetryCount: s.RetryCount,
			Backoff:    p.RateLimitDelay,
		}, nil

	case OutcomeTransient:
		rc := s.RetryCount + 1
		if rc >= p.Retry.MaxRetries {
			return Decision{Next: domain.ItemStateFailed, RetryCount: p.Retry.MaxRetries}, nil
		}
		return Decision{
			Next:       domain.ItemStateRetrying,
			Resume:     phase,
			RetryCount: rc,
			Backoff:    p.Retry.Backoff(rc),
		}, nil

	default:
		return Decision{}, fmt.Errorf("unknown outcome %d", int(o))
	}
}
