package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("路径错误: %s", r.URL.Path)
		}
		w.WriteHeader(status)
		if status/100 == 2 {
			w.Write([]byte(`{"choices":[{"message":{"content":"` + content + `"}}]}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAssistReturnsContent(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "sweep reclaimed the low; long.")
	c := NewChatClient(Config{BaseURL: srv.URL, Model: "test"})
	got, err := c.Assist(context.Background(), "explain {{pattern}}", map[string]string{"pattern": "sweep"})
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	if got != "sweep reclaimed the low; long." {
		t.Fatalf("内容不一致: %q", got)
	}
}

// TestAssistConcurrentShared 同一客户端被多个评估协程共享时必须安全，
// 构造后不允许任何内部状态变更。
func TestAssistConcurrentShared(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "ok")
	c := NewChatClient(Config{BaseURL: srv.URL, Model: "test"})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Assist(context.Background(), "p", nil); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("并发调用失败: %v", err)
	}
}

func TestAssistNonOKWrapsUnavailable(t *testing.T) {
	srv := chatServer(t, http.StatusBadGateway, "")
	c := NewChatClient(Config{BaseURL: srv.URL, Model: "test"})
	if _, err := c.Assist(context.Background(), "p", nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("非 2xx 应归为 ErrUnavailable: %v", err)
	}
}

func TestRenderPrompt(t *testing.T) {
	got := RenderPrompt("{{a}} vs {{b}} and {{a}}", map[string]string{"a": "x", "b": "y"})
	if got != "x vs y and x" {
		t.Fatalf("占位符填充错误: %q", got)
	}
}

func TestSanitizeThesisStripsFences(t *testing.T) {
	raw := "```text\nbreakout long,  stop below the\nrange.\n```"
	if got := SanitizeThesis(raw); got != "breakout long, stop below the range." {
		t.Fatalf("围栏清理错误: %q", got)
	}
	long := make([]byte, 700)
	for i := range long {
		long[i] = 'a'
	}
	if got := SanitizeThesis(string(long)); len(got) != 603 {
		t.Fatalf("超长论据应截断到 600+省略号, 实际长度=%d", len(got))
	}
}
