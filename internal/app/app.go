// Package app は設定から許可確認、カメラ、変換、表示までを組み立てる
package app

import (
	"context"
	"fmt"

	"monokuro/internal/camera"
	"monokuro/internal/config"
	"monokuro/internal/convert"
	"monokuro/internal/logging"
	"monokuro/internal/notice"
	"monokuro/internal/permission"
	"monokuro/internal/pipeline"
)

// App は組み立て済みのパイプラインと周辺のコンポーネント
type App struct {
	Pipeline *pipeline.Pipeline
	Cameras  *camera.DefaultCameraManager
	Sessions *camera.SessionManager
	Notices  *notice.Recorder
}

// New は設定に従ってAppを組み立てる
// presenterは変換後のグレースケール画像を受け取り、notifierはお知らせを表示する
func New(cfg *config.Config, presenter pipeline.FramePresenter, notifier notice.Notifier) (*App, error) {
	gate, err := permission.New(cfg.Permission.Mode)
	if err != nil {
		return nil, err
	}

	opener, err := camera.NewOpenerRegistry().Opener(cfg.Camera.Driver)
	if err != nil {
		return nil, err
	}

	discovery := newDiscovery(cfg)
	recorder := notice.NewRecorder(20, notifier)

	sessions := camera.NewSessionManager(camera.SessionOptions{
		Opener:       opener,
		Notifier:     recorder,
		BufferCount:  cfg.Capture.BufferCount,
		FrameTimeout: cfg.Capture.FrameTimeout,
		AcquireWait:  cfg.Capture.AcquireWait,
	})
	sessions.OnStateChange(func(s camera.SessionState) {
		logging.Debug("セッションの状態が変わりました", "state", s)
	})

	cameras := camera.NewDefaultCameraManager(discovery)

	p := pipeline.New(pipeline.Options{
		Gate:      gate,
		Discovery: discovery,
		Sessions:  sessions,
		Converter: convert.New(),
		Presenter: presenter,
		Notifier:  recorder,
		Cameras:   cameras,
		Device:    cfg.Camera.Device,
		Size:      camera.Resolution{Width: cfg.Camera.Width, Height: cfg.Camera.Height},
	})

	return &App{
		Pipeline: p,
		Cameras:  cameras,
		Sessions: sessions,
		Notices:  recorder,
	}, nil
}

func newDiscovery(cfg *config.Config) camera.Discovery {
	if cfg.Camera.Driver != camera.DriverSynthetic {
		return camera.NewLinuxDiscovery(nil)
	}

	device := cfg.Camera.Device
	if device == "" {
		device = "/dev/video0"
	}
	return camera.NewMockDiscovery([]string{device})
}

// Start はカメラ一覧の管理を始めてからパイプラインを起動する
// パイプラインの起動に失敗してもカメラ一覧の管理は続ける
func (a *App) Start(ctx context.Context) error {
	if err := a.Cameras.Start(ctx); err != nil {
		return fmt.Errorf("カメラマネージャーの起動に失敗: %w", err)
	}
	return a.Pipeline.Start(ctx)
}

// Close はパイプラインとカメラマネージャーを停止する
func (a *App) Close(ctx context.Context) error {
	if err := a.Pipeline.Stop(); err != nil {
		logging.Warn("パイプラインの停止に失敗しました", "error", err)
	}
	return a.Cameras.Stop(ctx)
}
