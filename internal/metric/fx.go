package metric

import (
	"github.com/smallbiznis/tally/internal/metric/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("metric",
	fx.Provide(repository.Provide),
)
