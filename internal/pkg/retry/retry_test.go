package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeSleeper 记录每次退避时长，不真正睡眠。
type fakeSleeper struct {
	delays []time.Duration
}

func (f *fakeSleeper) sleep(_ context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return nil
}

// TestExhaustSurfacesLastError 重试预算 2、连续失败 3 次时，
// 应把最后一次错误原样返回，且退避序列为 base, 2*base。
func TestExhaustSurfacesLastError(t *testing.T) {
	sleeper := &fakeSleeper{}
	boom := errors.New("ai commentary down")
	calls := 0
	err := Do(context.Background(), Policy{
		Retries:   2,
		BaseDelay: 100 * time.Millisecond,
		Sleep:     sleeper.sleep,
	}, func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("应返回原始错误, 实际=%v", err)
	}
	if calls != 3 {
		t.Fatalf("总尝试数应为 3, 实际=%d", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("退避次数应为 %d, 实际=%v", len(want), sleeper.delays)
	}
	for i, d := range want {
		if sleeper.delays[i] != d {
			t.Fatalf("第 %d 次退避应为 %v, 实际=%v", i+1, d, sleeper.delays[i])
		}
	}
}

func TestSucceedsAfterFailure(t *testing.T) {
	sleeper := &fakeSleeper{}
	calls := 0
	err := Do(context.Background(), Policy{Retries: 3, BaseDelay: 10 * time.Millisecond, Sleep: sleeper.sleep},
		func(context.Context) error {
			calls++
			if calls < 2 {
				return errors.New("transient")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("第二次尝试成功后不应报错: %v", err)
	}
	if calls != 2 {
		t.Fatalf("应在第二次成功, 实际尝试=%d", calls)
	}
}

func TestMaxDelayCap(t *testing.T) {
	sleeper := &fakeSleeper{}
	boom := errors.New("down")
	_ = Do(context.Background(), Policy{
		Retries:   4,
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  250 * time.Millisecond,
		Sleep:     sleeper.sleep,
	}, func(context.Context) error { return boom })
	// 100 → 200 → 250 → 250
	want := []time.Duration{100, 200, 250, 250}
	for i, ms := range want {
		if sleeper.delays[i] != time.Duration(ms)*time.Millisecond {
			t.Fatalf("第 %d 次退避应为 %dms, 实际=%v", i+1, ms, sleeper.delays[i])
		}
	}
}

// TestCancelDuringBackoff 取消应以 ErrCanceled 终止，而不是吞掉剩余重试。
func TestCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Retries: 5, BaseDelay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("取消后应返回 ErrCanceled, 实际=%v", err)
	}
	if calls != 1 {
		t.Fatalf("取消后不应再尝试, 实际尝试=%d", calls)
	}
}

func TestDoValue(t *testing.T) {
	got, err := DoValue(context.Background(), Policy{Retries: 0, BaseDelay: time.Millisecond},
		func(context.Context) (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Fatalf("DoValue 结果异常: got=%d err=%v", got, err)
	}
}
