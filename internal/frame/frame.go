// Package frame はカメラから取得した生フレームとそのバッファ管理を扱う
//
// Raw は取得バッファプールが所有する一時的なフレームで、処理後すぐに
// Release してプールへ返す必要がある。
package frame

import (
	"fmt"
	"sync"
	"time"
)

// Raw は 4:2:0 プレーナ形式のフレーム
// 輝度(Y)と色差(Cb, Cr)をそれぞれ別のプレーンとして持つ
type Raw struct {
	Width  int
	Height int

	Y  []byte
	Cb []byte
	Cr []byte

	YStride int // 輝度プレーンの1行あたりのバイト数
	CStride int // 色差プレーンの1行あたりのバイト数

	Seq       uint64
	Timestamp time.Time

	release func()
	once    sync.Once
}

// NewRaw はプレーンを指定してRawを作成する
// releaseはRelease時に一度だけ呼ばれる (nil可)
func NewRaw(width, height int, y, cb, cr []byte, yStride, cStride int, release func()) *Raw {
	return &Raw{
		Width:     width,
		Height:    height,
		Y:         y,
		Cb:        cb,
		Cr:        cr,
		YStride:   yStride,
		CStride:   cStride,
		Timestamp: time.Now(),
		release:   release,
	}
}

// FromI420 は連続したI420 (YU12) バッファからRawを作成する
// バッファはコピーせずに参照する
func FromI420(buf []byte, width, height int, release func()) (*Raw, error) {
	y, cb, cr, err := splitPlanes(buf, width, height)
	if err != nil {
		return nil, err
	}
	return NewRaw(width, height, y, cb, cr, width, ChromaWidth(width), release), nil
}

// FromYV12 は連続したYV12バッファからRawを作成する
// YV12 は Cr が Cb より先に並ぶ
func FromYV12(buf []byte, width, height int, release func()) (*Raw, error) {
	y, cr, cb, err := splitPlanes(buf, width, height)
	if err != nil {
		return nil, err
	}
	return NewRaw(width, height, y, cb, cr, width, ChromaWidth(width), release), nil
}

func splitPlanes(buf []byte, width, height int) ([]byte, []byte, []byte, error) {
	if width <= 0 || height <= 0 {
		return nil, nil, nil, fmt.Errorf("無効なフレームサイズ: %dx%d", width, height)
	}
	ySize := width * height
	cSize := ChromaWidth(width) * ChromaHeight(height)
	if len(buf) < ySize+2*cSize {
		return nil, nil, nil, fmt.Errorf("バッファが不足しています: %d < %d", len(buf), ySize+2*cSize)
	}
	return buf[:ySize], buf[ySize : ySize+cSize], buf[ySize+cSize : ySize+2*cSize], nil
}

// Release はフレームをバッファプールへ返す
// 複数回呼んでも一度しか返さない
func (r *Raw) Release() {
	r.once.Do(func() {
		if r.release != nil {
			r.release()
		}
	})
}

// ChromaWidth は 4:2:0 における色差プレーンの幅
func ChromaWidth(width int) int { return (width + 1) / 2 }

// ChromaHeight は 4:2:0 における色差プレーンの高さ
func ChromaHeight(height int) int { return (height + 1) / 2 }

// InterleavedSize はInterleaveが返すバッファの長さ
func InterleavedSize(width, height int) int {
	return width*height + 2*ChromaWidth(width)*ChromaHeight(height)
}

// Interleave は Y, Cb, Cr の順にプレーンを連結した新しいバッファを返す
//
// ストライドの余白は取り除く。プレーンが宣言サイズより短い場合は
// 足りない部分を0のまま残し、ここでは検証しない。
func Interleave(r *Raw) []byte {
	cw, ch := ChromaWidth(r.Width), ChromaHeight(r.Height)
	out := make([]byte, InterleavedSize(r.Width, r.Height))

	off := copyPlane(out, r.Y, r.Width, r.Height, r.YStride)
	off += copyPlane(out[off:], r.Cb, cw, ch, r.CStride)
	copyPlane(out[off:], r.Cr, cw, ch, r.CStride)

	return out
}

// copyPlane はストライド付きのプレーンを詰めてdstへコピーし、書き込んだ領域の長さを返す
func copyPlane(dst, src []byte, width, height, stride int) int {
	if stride < width {
		stride = width
	}
	for row := 0; row < height; row++ {
		start := row * stride
		if start >= len(src) {
			break
		}
		end := start + width
		if end > len(src) {
			end = len(src)
		}
		copy(dst[row*width:], src[start:end])
	}
	return width * height
}
