package charge

import (
	"github.com/smallbiznis/tally/internal/charge/repository"
	"github.com/smallbiznis/tally/internal/charge/service"
	"go.uber.org/fx"
)

var Module = fx.Module("charge",
	fx.Provide(
		repository.Provide,
		service.NewEvaluator,
	),
)
