package rag

import (
	"go.uber.org/fx"
)

// Module provides the retrieval pipeline and its HTTP surface
var Module = fx.Module("rag",
	fx.Provide(
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)

// ServiceModule provides only the pipeline, for processes with no HTTP
// surface such as the queue worker
var ServiceModule = fx.Module("rag",
	fx.Provide(NewService),
)
