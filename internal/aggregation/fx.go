package aggregation

import (
	"github.com/smallbiznis/tally/internal/aggregation/repository"
	"github.com/smallbiznis/tally/internal/aggregation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("aggregation.engine",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
