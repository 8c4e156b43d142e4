package executor

import (
	"context"
	"errors"

	"github.com/shaiso/storebridge/internal/connector/catalog"
	"github.com/shaiso/storebridge/internal/connector/marketplace"
	"github.com/shaiso/storebridge/internal/domain"
	"github.com/shaiso/storebridge/internal/ratelimit"
	"github.com/shaiso/storebridge/internal/registration"
)

// runStep выполняет шаг над копией item. Результаты шага записываются в item.
func (e *Executor) runStep(ctx context.Context, item *domain.Item, step registration.StepDef) error {
	switch step.Name {
	case registration.StepValidate:
		return e.validator.Validate(item.Source).Err()

	case registration.StepPrepare:
		l := marketplace.BuildListing(item.Source, e.categoryID)
		item.Listing = &l
		return nil

	case registration.StepUpload:
		return e.upload(ctx, item)

	case registration.StepRegister:
		return e.register(ctx, item)

	default:
		return domain.Errorf(domain.ErrorKindFatal, "unknown step %q", step.Name)
	}
}

func (e *Executor) upload(ctx context.Context, item *domain.Item) error {
	listing := e.listingOf(item)
	if len(listing.Images) == 0 {
		// нечего загружать, маркетплейс получит листинг без изображения
		return nil
	}

	src := listing.Images[0]
	if err := acquire(ctx, e.assetBudget); err != nil {
		return err
	}
	data, err := e.assets.FetchAsset(ctx, src)
	if err != nil {
		return err
	}

	if err := acquire(ctx, e.budget); err != nil {
		return err
	}

	u, err := e.marketplace.UploadAsset(ctx, data, catalog.AssetName(src))
	if err != nil {
		return err
	}
	item.AssetURL = u
	listing.RepresentativeURL = u
	return nil
}

func (e *Executor) register(ctx context.Context, item *domain.Item) error {
	listing := e.listingOf(item)
	if item.AssetURL != "" {
		listing.RepresentativeURL = item.AssetURL
	}

	if err := acquire(ctx, e.budget); err != nil {
		return err
	}

	id, err := e.marketplace.RegisterItem(ctx, *listing)
	if err != nil {
		return err
	}
	item.ExternalID = id
	return nil
}

// listingOf возвращает листинг item. Если листинг не сохранён, собирает его из товара.
func (e *Executor) listingOf(item *domain.Item) *domain.Listing {
	if item.Listing == nil {
		l := marketplace.BuildListing(item.Source, e.categoryID)
		item.Listing = &l
	}
	return item.Listing
}

// acquire получает бюджет ресурса перед внешним вызовом.
// Бюджет без Limiter не ограничивает вызовы.
func acquire(ctx context.Context, b ratelimit.Budget) error {
	if b.Limiter == nil {
		return nil
	}
	err := b.Require(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ratelimit.ErrNoBudget):
		return domain.NewError(domain.ErrorKindRateLimited, err)
	case errors.Is(err, ratelimit.ErrUnavailable):
		return domain.NewError(domain.ErrorKindLimiterUnavailable, err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return domain.NewError(domain.ErrorKindFatal, err)
	}
}

// BudgetGate — хук для клиента маркетплейса: каждый повтор запроса
// после переавторизации получает бюджет так же, как первый вызов.
func BudgetGate(b ratelimit.Budget) func(context.Context) error {
	return func(ctx context.Context) error {
		return acquire(ctx, b)
	}
}
