// Package main はブラウザでプレビューを見るためのサーバーコマンドです
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"monokuro/internal/app"
	"monokuro/internal/config"
	"monokuro/internal/convert"
	"monokuro/internal/logging"
	"monokuro/internal/notice"
	"monokuro/internal/permission"
	"monokuro/internal/present"
	"monokuro/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		configPath = flag.String("config", "", "設定ファイルのパス")
		driver     = flag.String("driver", "", "カメラドライバー (v4l2, synthetic)")
		device     = flag.String("device", "", "カメラデバイスのパス")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("monokuro")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *driver != "" {
		cfg.Camera.Driver = *driver
	}
	if *device != "" {
		cfg.Camera.Device = *device
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定が不正です: %v", err)
	}

	logging.Init(cfg.Log.Level, cfg.Log.Format)

	if err := convert.SelfTest(); err != nil {
		logging.Error(notice.MessageOpenCVUnavailable, "error", err)
		os.Exit(1)
	}

	// 描画は専用のループで行い、遅れたら古いフレームを捨てる
	loop := present.NewLoop()
	defer loop.Close()

	stream := server.NewBroadcaster(cfg.Server.JPEGQuality)
	presenter := present.New(convert.New(), loop, stream)

	monokuro, err := app.New(cfg, presenter, notice.Log{})
	if err != nil {
		log.Fatalf("アプリケーションの構成に失敗しました: %v", err)
	}

	// コンテキストを作成
	ctx := context.Background()

	if err := monokuro.Start(ctx); err != nil {
		// 許可がなくてもサーバーは起動し、状態をAPIで確認できるようにする
		if errors.Is(err, permission.ErrPermissionDenied) {
			logging.Warn("カメラへのアクセスが拒否されました")
		} else {
			logging.Error("プレビューを開始できません", "error", err)
		}
	}
	defer func() {
		if err := monokuro.Close(context.Background()); err != nil {
			logging.Warn("停止に失敗しました", "error", err)
		}
	}()

	srv := server.New(cfg, server.Deps{
		Pipeline: monokuro.Pipeline,
		Cameras:  monokuro.Cameras,
		Notices:  monokuro.Notices,
		Stream:   stream,
	})

	// サーバーを起動
	logging.Info("monokuro サーバーを起動します", "addr", cfg.ServerAddress())
	if err := srv.Start(ctx); err != nil {
		logging.Error("サーバーの起動に失敗しました", "error", err)
		os.Exit(1)
	}
}
