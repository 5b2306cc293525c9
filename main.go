package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"

	"monokuro/internal/app"
	"monokuro/internal/config"
	"monokuro/internal/convert"
	"monokuro/internal/logging"
	"monokuro/internal/notice"
	"monokuro/internal/permission"
	"monokuro/internal/present"
	"monokuro/internal/preview"
)

// お知らせを読めるだけ待ってから終了する
const openCVExitDelay = 2500 * time.Millisecond

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}
	logging.Init(cfg.Log.Level, cfg.Log.Format)

	a := fyneapp.NewWithID("io.github.monokuro")
	window := preview.NewWindow(a, cfg.Preview.Title)

	// OpenCVが使えなければカメラを開かずに終了する
	if err := convert.SelfTest(); err != nil {
		logging.Error("OpenCVを読み込めません", "error", err)
		a.Lifecycle().SetOnStarted(func() {
			window.Notify(notice.MessageOpenCVUnavailable, notice.DurationOf(notice.MessageOpenCVUnavailable))
			time.AfterFunc(openCVExitDelay, func() { fyne.Do(a.Quit) })
		})
		window.Window().ShowAndRun()
		os.Exit(1)
	}

	presenter := present.New(convert.New(), preview.Dispatcher{}, window)

	monokuro, err := app.New(cfg, presenter, window)
	if err != nil {
		log.Fatalf("アプリケーションの構成に失敗しました: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ウィンドウが表示されてから許可を求める
	a.Lifecycle().SetOnStarted(func() {
		go func() {
			if err := monokuro.Start(ctx); err != nil {
				if errors.Is(err, permission.ErrPermissionDenied) {
					logging.Warn("カメラへのアクセスが拒否されました")
				} else {
					logging.Error("プレビューを開始できません", "error", err)
				}
			}
		}()
	})

	window.Window().SetOnClosed(func() {
		cancel()
		if err := monokuro.Close(context.Background()); err != nil {
			logging.Warn("停止に失敗しました", "error", err)
		}
	})

	window.Window().SetMaster()
	window.Window().ShowAndRun()
}
