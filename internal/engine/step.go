package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/torosent/pagerunner/internal/browser"
	"github.com/torosent/pagerunner/internal/condition"
	"github.com/torosent/pagerunner/internal/metrics"
	"github.com/torosent/pagerunner/internal/reporter"
	"github.com/torosent/pagerunner/internal/script"
	"github.com/torosent/pagerunner/internal/tracing"
)

// ConditionTimeoutName is the assertion name recorded when a pre or
// postcondition is not met in time.
const ConditionTimeoutName = "ConditionTimeout"

// outcome accumulates what happened during one step.
type outcome struct {
	ran         bool
	dispatched  time.Time
	elapsed     time.Duration
	interrupted bool
	objectTypes []string
	assertions  []reporter.AssertionRecord
	screenshots []string
}

func (o *outcome) failed() bool {
	return len(o.assertions) > 0
}

func (o *outcome) assertionNames() []string {
	if len(o.assertions) == 0 {
		return nil
	}
	names := make([]string, len(o.assertions))
	for i, a := range o.assertions {
		names[i] = a.AssertionName
	}
	return names
}

func (e *Engine) runStep(ctx context.Context, r *run, iteration, index int, step script.Step) (err error) {
	log := r.logger.With(zap.String("step", step.Name), zap.Int("iteration", iteration))
	ctx, span := tracing.StartStepSpan(ctx, e.opts.Tracing.Tracer(), step.Name,
		tracing.AttrIteration.Int(iteration),
		tracing.AttrVU.String(e.opts.VU),
		tracing.AttrRun.String(r.id),
	)
	out := &outcome{objectTypes: []string{"trace"}}
	var endAttrs []attribute.KeyValue
	defer func() {
		tracing.EndSpan(span, err, out.failed(), endAttrs...)
	}()

	if headers := e.opts.Tracing.Headers(ctx); headers != nil {
		if hs, ok := r.client.(browser.HeaderSetter); ok {
			if err := hs.SetExtraHeaders(ctx, headers); err != nil {
				log.Debug("trace headers not set", zap.Error(err))
			}
		}
	}

	timeout := r.settings.WaitTimeout
	if step.Timeout > 0 {
		timeout = step.Timeout
	}

	// Requests still in flight from think time belong to nobody.
	r.pipeline.Boundary()
	disarm := arm(step.Conditions, r.client)
	defer disarm()

	ok, err := e.satisfy(ctx, r, step, condition.Precondition, timeout, out)
	if err != nil {
		return err
	}
	if ok {
		if err := e.act(ctx, r, step, timeout, out, log); err != nil {
			return err
		}
		if !out.interrupted && !out.failed() {
			if _, err := e.satisfy(ctx, r, step, condition.Postcondition, timeout, out); err != nil {
				return err
			}
		}
	}

	if out.failed() && r.settings.ScreenshotOnFailure {
		e.screenshot(ctx, r, iteration, index, step, out, log)
	}

	code := e.recorder.DocumentStatus()
	var latency time.Duration
	if first, ok := e.recorder.FirstResponse(); ok && out.ran {
		latency = first.Sub(out.dispatched)
	}
	responseTime, emitted := r.pipeline.Step(metrics.StepSample{
		Name:          step.Name,
		Elapsed:       out.elapsed,
		Latency:       latency,
		ResponseCode:  code,
		Assertions:    out.assertionNames(),
		Interrupted:   out.interrupted,
		ActionSkipped: !out.ran,
	})
	e.rep.Trace(step.Name, code, reporter.TraceData{
		ObjectTypes: out.objectTypes,
		Assertions:  out.assertions,
		Screenshots: out.screenshots,
	})
	r.pipeline.Boundary()

	for _, a := range out.assertions {
		frame := ""
		if len(a.Stack) > 0 {
			frame = a.Stack[0]
		}
		tracing.RecordAssertion(span, a.AssertionName, a.Message, frame)
		log.Warn("assertion failed",
			zap.String("assertion", a.AssertionName),
			zap.String("message", a.Message),
			zap.String("at", frame),
		)
	}

	endAttrs = append(endAttrs, tracing.AttrInterrupted.Bool(out.interrupted))
	if emitted {
		endAttrs = append(endAttrs, tracing.AttrResponseTime.Float64(responseTime))
	}
	if code > 0 {
		endAttrs = append(endAttrs, tracing.AttrResponseCode.Int(code))
	}
	log.Debug("step finished",
		zap.Duration("elapsed", out.elapsed),
		zap.Bool("interrupted", out.interrupted),
		zap.Int("assertions", len(out.assertions)),
	)
	return nil
}

// arm starts every condition that must observe events from step start.
func arm(conds []condition.Condition, src browser.EventSource) (disarm func()) {
	var disarms []func()
	for _, c := range conds {
		if a, ok := c.(condition.Armer); ok {
			disarms = append(disarms, a.Arm(src))
		}
	}
	return func() {
		for _, d := range disarms {
			d()
		}
	}
}

// satisfy evaluates the conditions of one role in declaration order. It
// returns false when one of them timed out, which is recorded as an
// assertion on out.
func (e *Engine) satisfy(ctx context.Context, r *run, step script.Step, role condition.Role, timeout time.Duration, out *outcome) (bool, error) {
	for _, c := range step.Conditions {
		if c.Role() != role {
			continue
		}
		if c.HasPollCheck() {
			held, err := c.PollCheck(ctx, r.client)
			if err != nil && !errors.Is(err, browser.ErrNoElement) {
				if ctx.Err() != nil {
					return false, ctx.Err()
				}
				return false, &StepError{Step: step.Name, Kind: KindCondition, Err: err}
			}
			if held {
				continue
			}
		}

		_, err := c.AwaitEvent(ctx, r.client, condition.EffectiveTimeout(c, timeout))
		if err == nil {
			continue
		}
		var te *condition.TimeoutError
		if errors.As(err, &te) {
			out.assertions = append(out.assertions, reporter.AssertionRecord{
				AssertionName: ConditionTimeoutName,
				Message:       te.Error(),
				Stack:         []string{fmt.Sprintf("%s %q in step %q (%s)", role, c.Name(), step.Name, r.path)},
			})
			return false, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, &StepError{Step: step.Name, Kind: KindCondition, Err: err}
	}
	return true, nil
}

type interruption struct {
	cond condition.Condition
	ev   browser.Event
}

// act runs the step action raced against its interrupt conditions. The
// loser is cancelled and every goroutine has exited before act returns.
func (e *Engine) act(ctx context.Context, r *run, step script.Step, timeout time.Duration, out *outcome, log *zap.Logger) error {
	var interrupts []condition.Condition
	for _, c := range step.Conditions {
		if c.Role() == condition.Interrupt {
			interrupts = append(interrupts, c)
		}
	}

	actionCtx, cancelAction := context.WithCancel(ctx)
	defer cancelAction()
	raceCtx, cancelRace := context.WithCancel(ctx)

	fired := make(chan interruption, len(interrupts))
	var wg sync.WaitGroup
	for _, c := range interrupts {
		wg.Add(1)
		go func(c condition.Condition) {
			defer wg.Done()
			ev, err := c.AwaitEvent(raceCtx, r.client, condition.EffectiveTimeout(c, timeout))
			if err == nil {
				fired <- interruption{cond: c, ev: ev}
			}
		}(c)
	}
	stopRace := func() {
		cancelRace()
		wg.Wait()
	}
	defer stopRace()

	done := make(chan error, 1)
	out.ran = true
	out.dispatched = time.Now()
	e.recorder.MarkDispatch(out.dispatched)
	go func() {
		done <- invoke(actionCtx, r.client, step.Action)
	}()

	select {
	case err := <-done:
		out.elapsed = time.Since(out.dispatched)
		stopRace()
		return classify(ctx, step, err, out)

	case in := <-fired:
		out.elapsed = time.Since(out.dispatched)
		out.interrupted = true
		stopRace()
		if in.ev.Dialog != nil {
			out.objectTypes = append(out.objectTypes, "dialog")
			if err := r.client.HandleDialog(ctx, false, ""); err != nil {
				log.Warn("dialog dismiss failed", zap.Error(err))
			}
		} else {
			out.objectTypes = append(out.objectTypes, string(in.ev.Kind))
		}
		cancelAction()
		<-done
		log.Info("step interrupted", zap.String("condition", in.cond.Name()))
		return ctx.Err()
	}
}

type panicError struct {
	value interface{}
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// invoke calls action, turning panics into errors. A panic carrying an
// *script.AssertionError is an ordinary assertion.
func invoke(ctx context.Context, client browser.Client, action script.Action) (err error) {
	defer func() {
		if v := recover(); v != nil {
			if ae, ok := v.(*script.AssertionError); ok {
				err = ae
				return
			}
			err = &panicError{value: v, stack: debug.Stack()}
		}
	}()
	if action == nil {
		return nil
	}
	return action(ctx, client)
}

func classify(ctx context.Context, step script.Step, err error, out *outcome) error {
	if err == nil {
		return nil
	}
	var ae *script.AssertionError
	if errors.As(err, &ae) {
		name := ae.Name
		if name == "" {
			name = script.AssertionName
		}
		out.assertions = append(out.assertions, reporter.AssertionRecord{
			AssertionName: name,
			Message:       ae.Message,
			Stack:         ae.Stack,
		})
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var pe *panicError
	if errors.As(err, &pe) {
		return &StepError{Step: step.Name, Kind: KindPanic, Err: pe}
	}
	return &StepError{Step: step.Name, Kind: KindAction, Err: err}
}

func (e *Engine) screenshot(ctx context.Context, r *run, iteration, index int, step script.Step, out *outcome, log *zap.Logger) {
	dir := e.opts.ArtifactsDir
	if dir == "" {
		return
	}
	vu := e.opts.VU
	if vu == "" {
		vu = "engine"
	}
	dir = filepath.Join(dir, vu)

	png, err := r.client.Screenshot(ctx)
	if err != nil {
		log.Warn("screenshot failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn("screenshot failed", zap.Error(err))
		return
	}
	name := fmt.Sprintf("%s-%03d-%02d-%s.png", r.id, iteration, index, slug(step.Name))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		log.Warn("screenshot failed", zap.Error(err))
		return
	}
	out.screenshots = append(out.screenshots, path)
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
