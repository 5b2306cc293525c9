// Package preview はfyneのウィンドウにプレビューを表示する
package preview

import (
	"fmt"
	"image"
	"image/draw"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"monokuro/internal/notice"
)

// トーストの表示時間
const (
	shortToast = 2 * time.Second
	longToast  = 3500 * time.Millisecond
)

// Dispatcher はfyneのUIゴルーチンで関数を実行させる
type Dispatcher struct{}

// Do はfnをfyne.Doに渡す
func (Dispatcher) Do(fn func()) {
	fyne.Do(fn)
}

// Window はプレビュー画像とお知らせ欄を持つウィンドウ
type Window struct {
	app    fyne.App
	window fyne.Window
	image  *canvas.Image
	toast  *widget.Label

	mu       sync.Mutex
	size     image.Point
	toastSeq int
}

// NewWindow はプレビューウィンドウを作成する
func NewWindow(app fyne.App, title string) *Window {
	w := &Window{
		app:    app,
		window: app.NewWindow(title),
		image:  canvas.NewImageFromImage(nil),
		toast:  widget.NewLabel(""),
	}

	w.image.FillMode = canvas.ImageFillOriginal
	w.image.ScaleMode = canvas.ImageScaleFastest
	w.toast.Alignment = fyne.TextAlignCenter

	w.window.SetContent(container.NewBorder(nil, w.toast, nil, nil, w.image))
	w.window.Resize(fyne.NewSize(640, 480))
	return w
}

// Window はfyneのウィンドウを返す
func (w *Window) Window() fyne.Window {
	return w.window
}

// Lock は描画用のキャンバスを返す
// 描画中の画像を書き換えないよう毎回新しく確保する
func (w *Window) Lock(width, height int) (draw.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("無効なサイズ: %dx%d", width, height)
	}
	return image.NewRGBA(image.Rect(0, 0, width, height)), nil
}

// UnlockAndPost はキャンバスをウィンドウに反映する
// fyneのUIゴルーチンから呼ぶこと
func (w *Window) UnlockAndPost(c draw.Image) error {
	size := c.Bounds().Size()

	w.mu.Lock()
	resized := size != w.size
	w.size = size
	w.mu.Unlock()

	if resized {
		w.image.SetMinSize(fyne.NewSize(float32(size.X), float32(size.Y)))
	}

	w.image.Image = c
	w.image.Refresh()
	return nil
}

// Notify はお知らせ欄にメッセージを出し、一定時間後に消す
// デスクトップ通知も送る
func (w *Window) Notify(message string, d notice.Duration) {
	w.mu.Lock()
	w.toastSeq++
	seq := w.toastSeq
	w.mu.Unlock()

	fyne.Do(func() {
		w.toast.SetText(message)
	})
	w.app.SendNotification(fyne.NewNotification(w.window.Title(), message))

	time.AfterFunc(toastDuration(d), func() {
		w.mu.Lock()
		current := w.toastSeq == seq
		w.mu.Unlock()
		if current {
			fyne.Do(func() { w.toast.SetText("") })
		}
	})
}

func toastDuration(d notice.Duration) time.Duration {
	if d == notice.Long {
		return longToast
	}
	return shortToast
}
