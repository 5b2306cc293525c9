package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"monokuro/internal/camera"
	"monokuro/internal/config"
	"monokuro/internal/logging"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	httpServer *http.Server
	engine     *gin.Engine
	handler    *Handler

	// リクエストのコンテキストの親。Shutdown時にキャンセルしてストリームを終わらせる
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// Deps はサーバーが表示する対象
type Deps struct {
	Pipeline StatusProvider
	Cameras  camera.Manager
	Notices  NoticeSource
	Stream   *Broadcaster
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, deps Deps) *Server {
	if deps.Stream == nil {
		deps.Stream = NewBroadcaster(cfg.Server.JPEGQuality)
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	engine.SetHTMLTemplate(indexTemplate)

	s := &Server{
		config:     cfg,
		engine:     engine,
		baseCtx:    baseCtx,
		cancelBase: cancelBase,
		handler: &Handler{
			config:   cfg,
			pipeline: deps.Pipeline,
			cameras:  deps.Cameras,
			notices:  deps.Notices,
			stream:   deps.Stream,
			started:  time.Now(),
		},
		httpServer: &http.Server{
			Addr:        cfg.ServerAddress(),
			Handler:     engine,
			ReadTimeout: cfg.Server.ReadTimeout,
			// 0以外にするとMJPEGの配信がその時間で切れる
			WriteTimeout: cfg.Server.WriteTimeout,
			BaseContext:  func(net.Listener) context.Context { return baseCtx },
		},
	}
	s.setupRoutes()
	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handler.HealthCheck)

	api := s.engine.Group("/api")
	api.GET("/status", s.handler.GetStatus)
	api.GET("/cameras", s.handler.GetCameras)
	api.GET("/snapshot.jpg", s.handler.GetSnapshot)

	s.engine.GET("/stream.mjpeg", s.handler.GetStream)
	s.engine.GET("/", s.handler.Root)
}

// Handler はルーティング済みのhttp.Handlerを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// requestLogger はリクエストをslogで記録するミドルウェア
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("HTTPリクエスト",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// Start はサーバーを起動し、コンテキストのキャンセルかシグナルで停止する
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve は指定したリスナーで待ち受ける
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	shutdownCh := make(chan error, 1)

	go func() {
		logging.Info("HTTPサーバーを起動しています", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		logging.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		logging.Info("シグナルを受信しました", "signal", sig.String())
	case err := <-shutdownCh:
		return err
	}

	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	logging.Info("サーバーをシャットダウンしています")

	s.cancelBase()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	logging.Info("サーバーが正常にシャットダウンされました")
	return nil
}
