package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// 中文说明：
// 通用指数退避执行器。唯一会主动挂起的位置是两次尝试之间的退避睡眠，
// 睡眠必须响应 ctx 取消并以 ErrCanceled 终止，绝不静默放弃剩余重试。

// ErrCanceled 调用方上下文被取消时返回，区别于操作自身的失败。
var ErrCanceled = errors.New("retry: canceled")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记一个不值得重试的失败。Do 遇到后立即返回内部错误。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Policy 控制重试行为。Retries 是额外重试次数，总尝试数为 Retries+1。
type Policy struct {
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter 为当前延迟的抖动系数（0~1），对称施加在延迟上。
	Jitter float64

	// Sleep 可注入以便测试记录退避序列；为空则使用真实定时器。
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p Policy) withDefaults() Policy {
	if p.Retries < 0 {
		p.Retries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

// Do 按策略重试 op。重试耗尽时把最后一次失败原样返回给调用方。
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	p = p.withDefaults()
	delay := p.BaseDelay
	var last error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCanceled, err)
		}
		last = op(ctx)
		if last == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(last, &pe) {
			return pe.err
		}
		if attempt >= p.Retries {
			return last
		}
		if err := p.Sleep(ctx, jittered(delay, p.Jitter)); err != nil {
			return err
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

// DoValue 带返回值版本。
func DoValue[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}
	// 对称抖动：d * (1 ± jitter)
	delta := (rand.Float64()*2 - 1) * jitter * float64(d)
	out := time.Duration(float64(d) + delta)
	if out < 0 {
		out = 0
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
