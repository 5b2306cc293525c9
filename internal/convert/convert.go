// Package convert はOpenCV (gocv) を使って生フレームをグレースケール画像に変換する
//
// 変換は一回の色空間変換呼び出し (YUV 4:2:0 → GRAY) のみで、
// 補正・ノイズ除去・二値化は行わない。同じ入力からは常に同じ出力を返す。
package convert

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"gocv.io/x/gocv"

	"monokuro/internal/frame"
)

// ErrMalformedFrame は変換できないフレームサイズを示す
var ErrMalformedFrame = errors.New("変換できないフレームサイズ")

// Converter はフレーム変換を行う
// 状態を持たないため複数のゴルーチンから使える
type Converter struct{}

// New は新しいConverterを作成する
func New() *Converter {
	return &Converter{}
}

// ToGray はRawを輝度プレーンと同じ大きさの8bitグレースケール画像に変換する
func (c *Converter) ToGray(raw *frame.Raw) (*image.Gray, error) {
	// OpenCVの4:2:0変換は縦横とも偶数でないと例外で落ちる
	if raw.Width <= 0 || raw.Height <= 0 || raw.Width%2 != 0 || raw.Height%2 != 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrMalformedFrame, raw.Width, raw.Height)
	}

	buf := frame.Interleave(raw)
	rows := raw.Height + raw.Height/2

	src, err := gocv.NewMatFromBytes(rows, raw.Width, gocv.MatTypeCV8UC1, buf)
	if err != nil {
		return nil, fmt.Errorf("Matの作成に失敗: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	if err := gocv.CvtColor(src, &dst, gocv.ColorYUVToGRAY420); err != nil {
		return nil, fmt.Errorf("グレースケール変換に失敗: %w", err)
	}
	if dst.Empty() {
		return nil, fmt.Errorf("グレースケール変換の結果が空です")
	}

	pix := dst.ToBytes()
	if dst.Rows() != raw.Height || dst.Cols() != raw.Width || len(pix) != raw.Width*raw.Height {
		return nil, fmt.Errorf("%w: 変換結果 %dx%d", ErrMalformedFrame, dst.Cols(), dst.Rows())
	}

	return &image.Gray{
		Pix:    pix,
		Stride: raw.Width,
		Rect:   image.Rect(0, 0, raw.Width, raw.Height),
	}, nil
}

// ToBitmap はグレースケール画像を表示用の4チャンネル画像に変換する
func (c *Converter) ToBitmap(gray *image.Gray) (*image.RGBA, error) {
	if gray == nil || gray.Bounds().Empty() {
		return nil, fmt.Errorf("%w: 空の画像", ErrMalformedFrame)
	}

	src, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("Matの作成に失敗: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	if err := gocv.CvtColor(src, &dst, gocv.ColorGrayToBGRA); err != nil {
		return nil, fmt.Errorf("BGRA変換に失敗: %w", err)
	}
	if dst.Empty() {
		return nil, fmt.Errorf("BGRA変換の結果が空です")
	}

	img, err := dst.ToImage()
	if err != nil {
		return nil, fmt.Errorf("画像への変換に失敗: %w", err)
	}

	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}

	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba, nil
}

// SelfTest は小さなフレームを変換してOpenCVが使えるか確認する
func SelfTest() error {
	raw, err := frame.FromI420(frame.FillI420(2, 2, 16, 128), 2, 2, nil)
	if err != nil {
		return err
	}

	gray, err := New().ToGray(raw)
	if err != nil {
		return fmt.Errorf("OpenCVの動作確認に失敗: %w", err)
	}
	if gray.Pix[0] != 16 {
		return fmt.Errorf("OpenCVの動作確認に失敗: 予期しない画素値 %d", gray.Pix[0])
	}
	return nil
}
