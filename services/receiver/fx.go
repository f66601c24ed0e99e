package receiver

import (
	"go.uber.org/fx"
)

var Module = fx.Module("receiver.service",
	fx.Provide(NewService),
)
