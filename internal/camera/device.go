package camera

import (
	"errors"
	"fmt"
	"time"

	"github.com/blackjack/webcam"

	"monokuro/internal/frame"
)

// PixelFormat はV4L2のfourccコード
type PixelFormat uint32

const (
	FormatYU12 PixelFormat = 0x32315559 // 'YU12' (I420)
	FormatYV12 PixelFormat = 0x32315659 // 'YV12'
)

func (f PixelFormat) String() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	return string(b)
}

// choosePlanar は候補から使用する4:2:0プレーナ形式を選ぶ
// YU12を優先し、なければYV12を使う
func choosePlanar(formats []PixelFormat) (PixelFormat, bool) {
	var hasYV12 bool
	for _, f := range formats {
		switch f {
		case FormatYU12:
			return f, true
		case FormatYV12:
			hasYV12 = true
		}
	}
	if hasYV12 {
		return FormatYV12, true
	}
	return 0, false
}

// wrapFrame はドライバーのバッファをフォーマットに応じてRawに包む
func wrapFrame(format PixelFormat, buf []byte, res Resolution, release func()) (*frame.Raw, error) {
	switch format {
	case FormatYU12:
		return frame.FromI420(buf, res.Width, res.Height, release)
	case FormatYV12:
		return frame.FromYV12(buf, res.Width, res.Height, release)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// Device は開いた状態のカメラデバイス
//
// GetFrameで得たバッファはReleaseFrameするまでドライバーに返らない。
type Device interface {
	SupportedFormats() []PixelFormat
	SupportedSizes(format PixelFormat) []Resolution

	// Configure はフォーマットと解像度を設定し、実際に設定された値を返す
	Configure(format PixelFormat, size Resolution) (PixelFormat, Resolution, error)
	SetBufferCount(n int) error

	StartStreaming() error
	StopStreaming() error

	// WaitForFrame はフレームが読めるまで待つ
	// タイムアウト時はErrFrameTimeoutを返す
	WaitForFrame(timeout time.Duration) error
	GetFrame() ([]byte, uint32, error)
	ReleaseFrame(index uint32) error

	Close() error
}

// webcamDevice はblackjack/webcamによるV4L2デバイス
type webcamDevice struct {
	cam *webcam.Webcam
}

// OpenV4L2 はV4L2デバイスを開く
func OpenV4L2(path string) (Device, error) {
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, fmt.Errorf("デバイス %s のオープンに失敗: %w", path, err)
	}
	return &webcamDevice{cam: cam}, nil
}

func (d *webcamDevice) SupportedFormats() []PixelFormat {
	formats := d.cam.GetSupportedFormats()
	out := make([]PixelFormat, 0, len(formats))
	for f := range formats {
		out = append(out, PixelFormat(f))
	}
	return out
}

func (d *webcamDevice) SupportedSizes(format PixelFormat) []Resolution {
	sizes := d.cam.GetSupportedFrameSizes(webcam.PixelFormat(format))
	out := make([]Resolution, 0, len(sizes))
	for _, s := range sizes {
		// 離散サイズはMin==Max、段階的なサイズは最大値を代表とする
		out = append(out, Resolution{Width: int(s.MaxWidth), Height: int(s.MaxHeight)})
	}
	return out
}

func (d *webcamDevice) Configure(format PixelFormat, size Resolution) (PixelFormat, Resolution, error) {
	f, w, h, err := d.cam.SetImageFormat(webcam.PixelFormat(format), uint32(size.Width), uint32(size.Height))
	if err != nil {
		return 0, Resolution{}, err
	}
	return PixelFormat(f), Resolution{Width: int(w), Height: int(h)}, nil
}

func (d *webcamDevice) SetBufferCount(n int) error {
	return d.cam.SetBufferCount(uint32(n))
}

func (d *webcamDevice) StartStreaming() error {
	return d.cam.StartStreaming()
}

func (d *webcamDevice) StopStreaming() error {
	return d.cam.StopStreaming()
}

// WaitForFrame はV4L2の制約で秒単位に切り捨てて待つ。1秒未満は1秒になる
func (d *webcamDevice) WaitForFrame(timeout time.Duration) error {
	secs := uint32(timeout / time.Second)
	if secs == 0 {
		secs = 1
	}

	err := d.cam.WaitForFrame(secs)
	var to *webcam.Timeout
	if errors.As(err, &to) {
		return ErrFrameTimeout
	}
	return err
}

func (d *webcamDevice) GetFrame() ([]byte, uint32, error) {
	return d.cam.GetFrame()
}

func (d *webcamDevice) ReleaseFrame(index uint32) error {
	return d.cam.ReleaseFrame(index)
}

func (d *webcamDevice) Close() error {
	return d.cam.Close()
}
