package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"sentra/internal/engine"
	"sentra/internal/logger"
	"sentra/internal/transport/http/api"

	"github.com/gin-gonic/gin"
)

// Server 决策服务的 HTTP 外壳。路由注册在 /api 组下，/healthz 独立。
type Server struct {
	srv *http.Server
}

func NewServer(listen string, eng *engine.Engine) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api.NewRouter(eng).Register(router.Group("/api"))

	return &Server{srv: &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Run 启动监听并阻塞，ctx 取消后优雅退出。
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[http] listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Infof("[http] shutting down")
	return s.srv.Shutdown(shutdownCtx)
}
