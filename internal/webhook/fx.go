package webhook

import (
	"github.com/kirimaja/kirimaja/internal/webhook/repository"
	webhookservice "github.com/kirimaja/kirimaja/internal/webhook/service"
	"github.com/kirimaja/kirimaja/internal/webhook/verifier"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.ingest",
	fx.Provide(repository.Provide),
	fx.Provide(verifier.New),
	fx.Provide(webhookservice.NewService),
)
