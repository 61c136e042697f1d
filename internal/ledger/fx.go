package ledger

import (
	"github.com/kirimaja/kirimaja/internal/ledger/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(repository.Provide),
)
