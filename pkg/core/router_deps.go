package core

import (
	"context"
	"net/http"

	"github.com/joeydtaylor/steeze-functions/pkg/function"
	"github.com/joeydtaylor/steeze-functions/pkg/middleware/auth"
	"github.com/joeydtaylor/steeze-functions/pkg/middleware/logger"
	httpx "github.com/joeydtaylor/steeze-functions/pkg/transport/httpx"
	"go.uber.org/zap"
)

// Registry is the write and lookup side the handlers call; registry.Service
// implements it.
type Registry interface {
	Create(ctx context.Context, ref function.Ref, code string, env map[string]string) (*function.Entry, error)
	Upsert(ctx context.Context, ref function.Ref, code string, env map[string]string, exposed *bool) (*function.Entry, error)
	Get(ctx context.Context, ref function.Ref) (*function.Entry, error)
	Delete(ctx context.Context, ref function.Ref) (int, error)
	SetEnv(ctx context.Context, ref function.Ref, name, value string) error
	DeleteEnv(ctx context.Context, ref function.Ref, name string) error
	List(ctx context.Context, page, perPage int) (function.NamespacePage, error)
	Ping(ctx context.Context) error
}

// Runner executes functions; pipeline.Executor implements it.
type Runner interface {
	Run(ctx context.Context, refs []function.Ref, req function.Request) (*function.Response, error)
	RunExposed(ctx context.Context, ref function.Ref, req function.Request) (*function.Response, error)
}

type BuildDeps struct {
	Auth     *auth.Middleware
	LogMW    *logger.Middleware
	Metrics  http.Handler
	Router   httpx.Router
	Registry Registry
	Runner   Runner
	Log      *zap.Logger
}
