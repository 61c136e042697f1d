package audit

import (
	"github.com/kirimaja/kirimaja/internal/audit/repository"
	auditservice "github.com/kirimaja/kirimaja/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(auditservice.NewService),
)
