package tax

import (
	"github.com/smallbiznis/tally/internal/tax/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tax",
	fx.Provide(
		service.NewComputer,
		service.NewProvider,
	),
)
