// Package sandbox runs stored functions written as HCL attribute lists.
//
// A function body sets any of the attributes status, headers, body, state,
// error and log. Expressions may read req, res, state, env and fn, and call a
// fixed set of cty functions. Evaluation has no side effects beyond the
// returned response, the forwarded state and log lines.
package sandbox

import (
	"os"
	"strings"
	"time"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	"go.uber.org/zap"
)

const DefaultTimeout = time.Second

// Config is the [sandbox] manifest section.
type Config struct {
	TimeoutMS int `toml:"timeout_ms"`
	// ExposeEnv names process env vars visible to every function as env.<NAME>.
	ExposeEnv []string `toml:"expose_env"`
}

// Attribute names a function body may set.
const (
	attrStatus  = "status"
	attrHeaders = "headers"
	attrBody    = "body"
	attrState   = "state"
	attrError   = "error"
	attrLog     = "log"
)

var knownAttrs = map[string]struct{}{
	attrStatus: {}, attrHeaders: {}, attrBody: {}, attrState: {}, attrError: {}, attrLog: {},
}

var knownRoots = map[string]struct{}{
	"req": {}, "res": {}, "state": {}, "env": {}, "fn": {},
}

// Sandbox checks, compiles and executes function code.
type Sandbox struct {
	timeout time.Duration
	exposed map[string]string
	funcs   map[string]function.Function
	log     *zap.Logger
}

// New captures the exposed process env once; later changes to the process
// env are not seen by functions.
func New(cfg Config, log *zap.Logger) *Sandbox {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := DefaultTimeout
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	exposed := map[string]string{}
	for _, name := range cfg.ExposeEnv {
		name = strings.TrimSpace(name)
		if v, ok := os.LookupEnv(name); ok && name != "" {
			exposed[name] = v
		}
	}
	return &Sandbox{
		timeout: timeout,
		exposed: exposed,
		funcs:   Functions(),
		log:     log.Named("sandbox"),
	}
}

// Functions is the function table available to expressions.
func Functions() map[string]function.Function {
	return map[string]function.Function{
		"abs":        stdlib.AbsoluteFunc,
		"coalesce":   stdlib.CoalesceFunc,
		"concat":     stdlib.ConcatFunc,
		"contains":   stdlib.ContainsFunc,
		"format":     stdlib.FormatFunc,
		"join":       stdlib.JoinFunc,
		"jsondecode": stdlib.JSONDecodeFunc,
		"jsonencode": stdlib.JSONEncodeFunc,
		"keys":       stdlib.KeysFunc,
		"length":     stdlib.LengthFunc,
		"lookup":     stdlib.LookupFunc,
		"lower":      stdlib.LowerFunc,
		"max":        stdlib.MaxFunc,
		"merge":      stdlib.MergeFunc,
		"min":        stdlib.MinFunc,
		"replace":    stdlib.ReplaceFunc,
		"split":      stdlib.SplitFunc,
		"substr":     stdlib.SubstrFunc,
		"tonumber":   stdlib.MakeToFunc(cty.Number),
		"tostring":   stdlib.MakeToFunc(cty.String),
		"trimspace":  stdlib.TrimSpaceFunc,
		"upper":      stdlib.UpperFunc,
	}
}
