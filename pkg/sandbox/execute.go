package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/hashicorp/hcl/v2"
	fn "github.com/joeydtaylor/steeze-functions/pkg/function"
	"github.com/joeydtaylor/steeze-functions/pkg/middleware/logger"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"go.uber.org/zap"
)

type outcome struct {
	res   *fn.Response
	state json.RawMessage
	err   error
}

// Execute evaluates a compiled script against fc. On success it returns the
// new response and stores the forwarded state in fc.State. Failures are
// *function.Fault values; a fault raised through the error attribute carries
// the partially evaluated response.
func (s *Sandbox) Execute(ctx context.Context, h fn.Handle, fc *fn.Context, env map[string]string) (*fn.Response, error) {
	script, ok := h.(*Script)
	if !ok || script == nil {
		return nil, &fn.Fault{Message: fmt.Sprintf("%s: handle is not a compiled script", fc.Ref)}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if ctx.Err() != nil {
		return nil, contextFault(ctx)
	}

	// Evaluation cannot be interrupted; a timed out run finishes in the
	// background and its result is dropped.
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &fn.Fault{Message: fmt.Sprintf("panic: %v", r)}}
			}
		}()
		res, state, err := s.run(script, fc, env)
		done <- outcome{res: res, state: state, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		fc.State = o.state
		return o.res, nil
	case <-ctx.Done():
		return nil, contextFault(ctx)
	}
}

// contextFault reports a done context. Only a deadline counts as a timeout.
func contextFault(ctx context.Context) *fn.Fault {
	err := ctx.Err()
	return &fn.Fault{Message: err.Error(), Timeout: errors.Is(err, context.DeadlineExceeded)}
}

func (s *Sandbox) run(script *Script, fc *fn.Context, env map[string]string) (*fn.Response, json.RawMessage, error) {
	ectx, err := s.evalContext(fc, env)
	if err != nil {
		return nil, nil, &fn.Fault{Message: err.Error()}
	}

	out := fc.Response.Clone()
	if out == nil {
		out = fn.NewResponse()
	}

	eval := func(name string) (cty.Value, bool, error) {
		attr, ok := script.attrs[name]
		if !ok {
			return cty.NilVal, false, nil
		}
		v, diags := attr.Expr.Value(ectx)
		if diags.HasErrors() {
			return cty.NilVal, true, &fn.Fault{Message: diags.Error()}
		}
		if !v.IsWhollyKnown() {
			return cty.NilVal, true, &fn.Fault{Message: fmt.Sprintf("%s: %s is not known", script.Filename, name)}
		}
		return v, true, nil
	}

	v, setStatus, err := eval(attrStatus)
	if err != nil {
		return nil, nil, err
	}
	if setStatus && !v.IsNull() {
		status, err := toStatus(v)
		if err != nil {
			return nil, nil, &fn.Fault{Message: fmt.Sprintf("%s: status: %v", script.Filename, err)}
		}
		out.Status = status
	}

	if v, ok, err := eval(attrHeaders); err != nil {
		return nil, nil, err
	} else if ok && !v.IsNull() {
		if err := mergeHeaders(out.Headers, v); err != nil {
			return nil, nil, &fn.Fault{Message: fmt.Sprintf("%s: headers: %v", script.Filename, err)}
		}
	}

	if v, ok, err := eval(attrBody); err != nil {
		return nil, nil, err
	} else if ok {
		raw, err := toJSON(v)
		if err != nil {
			return nil, nil, &fn.Fault{Message: fmt.Sprintf("%s: body: %v", script.Filename, err)}
		}
		out.Body = raw
	}

	state := fc.State
	if v, ok, err := eval(attrState); err != nil {
		return nil, nil, err
	} else if ok {
		raw, err := toJSON(v)
		if err != nil {
			return nil, nil, &fn.Fault{Message: fmt.Sprintf("%s: state: %v", script.Filename, err)}
		}
		state = raw
	}

	if v, ok, err := eval(attrLog); err != nil {
		return nil, nil, err
	} else if ok {
		s.emit(fc.Ref, v)
	}

	if v, ok, err := eval(attrError); err != nil {
		return nil, nil, err
	} else if ok && !v.IsNull() {
		msg, err := convert.Convert(v, cty.String)
		if err != nil {
			return nil, nil, &fn.Fault{Message: fmt.Sprintf("%s: error: %v", script.Filename, err)}
		}
		if !setStatus {
			out.Status = 500
		}
		return nil, nil, &fn.Fault{Message: msg.AsString(), Response: out}
	}

	return out, state, nil
}

func (s *Sandbox) evalContext(fc *fn.Context, env map[string]string) (*hcl.EvalContext, error) {
	reqBody, err := fromJSON(fc.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("request body: %w", err)
	}
	state, err := fromJSON(fc.State)
	if err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}

	res := fc.Response
	if res == nil {
		res = fn.NewResponse()
	}
	resBody, err := fromJSON(res.Body)
	if err != nil {
		return nil, fmt.Errorf("response body: %w", err)
	}

	merged := maps.Clone(s.exposed)
	if merged == nil {
		merged = map[string]string{}
	}
	maps.Copy(merged, env)

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"req": cty.ObjectVal(map[string]cty.Value{
				"method":  cty.StringVal(fc.Request.Method),
				"headers": stringMap(fc.Request.Headers),
				"query":   stringMap(fc.Request.Query),
				"body":    reqBody,
			}),
			"res": cty.ObjectVal(map[string]cty.Value{
				"status":  cty.NumberIntVal(int64(res.Status)),
				"headers": stringMap(res.Headers),
				"body":    resBody,
			}),
			"state": state,
			"env":   stringMap(merged),
			"fn": cty.ObjectVal(map[string]cty.Value{
				"namespace": cty.StringVal(fc.Ref.Namespace),
				"id":        cty.StringVal(fc.Ref.ID),
			}),
		},
		Functions: s.funcs,
	}, nil
}

// emit writes the log attribute (a string or a list of strings) to the
// function's logger.
func (s *Sandbox) emit(ref fn.Ref, v cty.Value) {
	if v.IsNull() {
		return
	}
	l := logger.ForFunction(s.log, ref.Namespace, ref.ID)
	if v.Type().IsListType() || v.Type().IsTupleType() || v.Type().IsSetType() {
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			l.Info("", zap.String("functionLog", display(ev)))
		}
		return
	}
	l.Info("", zap.String("functionLog", display(v)))
}

func display(v cty.Value) string {
	if sv, err := convert.Convert(v, cty.String); err == nil && !sv.IsNull() {
		return sv.AsString()
	}
	raw, err := toJSON(v)
	if err != nil {
		return v.GoString()
	}
	return string(raw)
}

func stringMap(m map[string]string) cty.Value {
	if len(m) == 0 {
		return cty.MapValEmpty(cty.String)
	}
	vals := make(map[string]cty.Value, len(m))
	for k, v := range m {
		vals[k] = cty.StringVal(v)
	}
	return cty.MapVal(vals)
}

func toStatus(v cty.Value) (int, error) {
	nv, err := convert.Convert(v, cty.Number)
	if err != nil {
		return 0, err
	}
	var status int
	if err := gocty.FromCtyValue(nv, &status); err != nil {
		return 0, err
	}
	if status < 100 || status > 999 {
		return 0, fmt.Errorf("%d is not an HTTP status", status)
	}
	return status, nil
}

// mergeHeaders sets every header in v on dst; a null value removes it.
func mergeHeaders(dst map[string]string, v cty.Value) error {
	if !v.CanIterateElements() {
		return errors.New("must be a map of strings")
	}
	for it := v.ElementIterator(); it.Next(); {
		k, ev := it.Element()
		if k.Type() != cty.String {
			return errors.New("must be a map of strings")
		}
		name := k.AsString()
		if ev.IsNull() {
			delete(dst, name)
			continue
		}
		sv, err := convert.Convert(ev, cty.String)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		dst[name] = sv.AsString()
	}
	return nil
}

func fromJSON(raw json.RawMessage) (cty.Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	ty, err := ctyjson.ImpliedType(raw)
	if err != nil {
		return cty.NilVal, err
	}
	return ctyjson.Unmarshal(raw, ty)
}

func toJSON(v cty.Value) (json.RawMessage, error) {
	if v.IsNull() {
		return nil, nil
	}
	return ctyjson.Marshal(v, v.Type())
}
