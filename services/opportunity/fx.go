package opportunity

import (
	"go.uber.org/fx"
)

var Module = fx.Module("opportunity.service",
	fx.Provide(NewService),
)
