package embedding

import "go.uber.org/fx"

var Module = fx.Module("embedding",
	fx.Provide(NewClient),
)
