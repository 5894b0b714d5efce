package event

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("event.service",
	fx.Provide(NewService),
	fx.Invoke(initialize),
)

func initialize(lc fx.Lifecycle, s *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_, err := s.EnsureInitialized(ctx)
			return err
		},
	})
}
