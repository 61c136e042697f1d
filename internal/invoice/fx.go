package invoice

import (
	"github.com/kirimaja/kirimaja/internal/invoice/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice",
	fx.Provide(repository.Provide),
)
