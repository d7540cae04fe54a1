package logger

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Loggers struct {
	fx.Out

	System *zap.Logger
	Access *zap.Logger `name:"accessLogger"`
}

// ProvideLoggers opens <dir>/system.log and <dir>/http-access.log.
func ProvideLoggers(cfg Config) Loggers {
	return Loggers{
		System: NewLog(cfg, "system.log"),
		Access: NewLog(cfg, "http-access.log"),
	}
}

func ProvideLoggerMiddleware(p struct {
	fx.In
	Access *zap.Logger `name:"accessLogger"`
}) *Middleware {
	return NewMiddleware(p.Access)
}

// Module expects a Config in the graph.
var Module = fx.Options(
	fx.Provide(ProvideLoggers),
	fx.Provide(ProvideLoggerMiddleware),
)
