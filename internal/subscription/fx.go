package subscription

import (
	"github.com/smallbiznis/tally/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.resolver",
	fx.Provide(service.New),
)
