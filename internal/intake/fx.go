package intake

import (
	"github.com/smallbiznis/waiterless/internal/lifecycle"
	"go.uber.org/fx"
)

var Module = fx.Module("intake",
	fx.Provide(func(c *lifecycle.Coordinator) *Registry { return Default(c) }),
)
