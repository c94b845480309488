package fee

import (
	"github.com/smallbiznis/tally/internal/fee/repository"
	"github.com/smallbiznis/tally/internal/fee/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fee",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
