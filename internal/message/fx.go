package message

import (
	"github.com/kirimaja/kirimaja/internal/message/repository"
	messageservice "github.com/kirimaja/kirimaja/internal/message/service"
	"go.uber.org/fx"
)

var Module = fx.Module("message.service",
	fx.Provide(repository.Provide),
	fx.Provide(messageservice.NewService),
)
