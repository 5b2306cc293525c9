// Package present はグレースケール画像を表示面に描画する
//
// 描画はUIを所有するコンテキストにDispatcher経由で投げ、完了は待たない。
// 毎フレーム全面を (0,0) に等倍で描き直し、描画後はビットマップを捨てる。
package present

import (
	"image"
	"image/draw"
	"sync/atomic"

	xdraw "golang.org/x/image/draw"

	"monokuro/internal/logging"
)

// BitmapConverter はグレースケール画像を4チャンネルのビットマップにする
type BitmapConverter interface {
	ToBitmap(gray *image.Gray) (*image.RGBA, error)
}

// Dispatcher は関数をUIを所有するコンテキストで実行させる
// Doは実行を待たずに戻る
type Dispatcher interface {
	Do(fn func())
}

// DispatcherFunc は関数をDispatcherとして使えるようにする
type DispatcherFunc func(fn func())

// Do はfを呼ぶ
func (f DispatcherFunc) Do(fn func()) { f(fn) }

// Inline は呼び出し元でそのまま実行するDispatcher
var Inline Dispatcher = DispatcherFunc(func(fn func()) { fn() })

// Surface は描画先の表示面
type Surface interface {
	// Lock は幅と高さを指定して描画用キャンバスを得る
	Lock(width, height int) (draw.Image, error)

	// UnlockAndPost は描き終えたキャンバスを表示に反映する
	UnlockAndPost(canvas draw.Image) error
}

// Stats は描画のカウンタ
type Stats struct {
	Posted    uint64 `json:"posted"`
	Presented uint64 `json:"presented"`
	Errors    uint64 `json:"errors"`
}

// Presenter はグレースケール画像を表示面に描画する
type Presenter struct {
	conv     BitmapConverter
	dispatch Dispatcher
	surface  Surface

	posted    atomic.Uint64
	presented atomic.Uint64
	errors    atomic.Uint64
}

// New は新しいPresenterを作成する
func New(conv BitmapConverter, dispatch Dispatcher, surface Surface) *Presenter {
	if dispatch == nil {
		dispatch = Inline
	}
	return &Presenter{conv: conv, dispatch: dispatch, surface: surface}
}

// Present はビットマップを作って描画をUIコンテキストに投げる
// 描画の成否はログとカウンタにだけ残る
func (p *Presenter) Present(gray *image.Gray) error {
	bitmap, err := p.conv.ToBitmap(gray)
	if err != nil {
		p.errors.Add(1)
		return err
	}

	p.posted.Add(1)
	p.dispatch.Do(func() { p.draw(bitmap) })
	return nil
}

func (p *Presenter) draw(bitmap *image.RGBA) {
	b := bitmap.Bounds()

	canvas, err := p.surface.Lock(b.Dx(), b.Dy())
	if err != nil {
		p.errors.Add(1)
		logging.Warn("表示面のロックに失敗", "error", err)
		return
	}

	xdraw.Copy(canvas, canvas.Bounds().Min, bitmap, b, xdraw.Src, nil)

	if err := p.surface.UnlockAndPost(canvas); err != nil {
		p.errors.Add(1)
		logging.Warn("表示面への反映に失敗", "error", err)
		return
	}
	p.presented.Add(1)
}

// Stats はカウンタのスナップショットを返す
func (p *Presenter) Stats() Stats {
	return Stats{
		Posted:    p.posted.Load(),
		Presented: p.presented.Load(),
		Errors:    p.errors.Load(),
	}
}
