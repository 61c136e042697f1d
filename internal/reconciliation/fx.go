package reconciliation

import (
	"github.com/kirimaja/kirimaja/internal/reconciliation/repository"
	reconservice "github.com/kirimaja/kirimaja/internal/reconciliation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciliation",
	fx.Provide(repository.Provide),
	fx.Provide(reconservice.NewService),
)
