package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"monokuro/internal/frame"
)

// SyntheticDevice はメモリ上でグラデーションフレームを生成するデバイス
// カメラのない環境での動作確認とテストに使う
type SyntheticDevice struct {
	mu sync.Mutex

	formats  []PixelFormat
	sizes    []Resolution
	interval time.Duration

	format    PixelFormat
	size      Resolution
	buffers   [][]byte
	queued    []bool
	streaming bool
	closed    bool
	tick      int
	last      time.Time

	// テスト用の故障注入
	FailConfigure error
	FailStart     error
	FailWait      error
	Released      int
}

// NewSyntheticDevice は新しいSyntheticDeviceを作成する
func NewSyntheticDevice(sizes []Resolution, interval time.Duration) *SyntheticDevice {
	if len(sizes) == 0 {
		sizes = []Resolution{{Width: 640, Height: 480}, {Width: 320, Height: 240}}
	}
	return &SyntheticDevice{
		formats:  []PixelFormat{FormatYU12},
		sizes:    sizes,
		interval: interval,
	}
}

// OpenSynthetic はデバイスパスに関係なくSyntheticDeviceを開く
func OpenSynthetic(_ string) (Device, error) {
	return NewSyntheticDevice(nil, 33*time.Millisecond), nil
}

// SetFormats は提供するフォーマットを差し替える
func (d *SyntheticDevice) SetFormats(formats ...PixelFormat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.formats = formats
}

func (d *SyntheticDevice) SupportedFormats() []PixelFormat {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]PixelFormat(nil), d.formats...)
}

func (d *SyntheticDevice) SupportedSizes(format PixelFormat) []Resolution {
	if _, ok := choosePlanar([]PixelFormat{format}); !ok {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Resolution(nil), d.sizes...)
}

func (d *SyntheticDevice) Configure(format PixelFormat, size Resolution) (PixelFormat, Resolution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.FailConfigure != nil {
		return 0, Resolution{}, d.FailConfigure
	}
	if _, ok := choosePlanar([]PixelFormat{format}); !ok {
		return 0, Resolution{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	d.format = format
	d.size = size
	return format, size, nil
}

func (d *SyntheticDevice) SetBufferCount(n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n < 1 {
		return fmt.Errorf("無効なバッファ数: %d", n)
	}
	d.buffers = make([][]byte, n)
	d.queued = make([]bool, n)
	for i := range d.queued {
		d.queued[i] = true
	}
	return nil
}

func (d *SyntheticDevice) StartStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.FailStart != nil {
		return d.FailStart
	}
	if d.size.IsZero() || len(d.buffers) == 0 {
		return errors.New("フォーマットとバッファ数が未設定です")
	}
	d.streaming = true
	return nil
}

func (d *SyntheticDevice) StopStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streaming = false
	return nil
}

func (d *SyntheticDevice) WaitForFrame(timeout time.Duration) error {
	d.mu.Lock()
	if d.FailWait != nil {
		err := d.FailWait
		d.mu.Unlock()
		return err
	}
	if !d.streaming || d.closed {
		d.mu.Unlock()
		return errors.New("ストリーミングしていません")
	}
	wait := d.interval - time.Since(d.last)
	d.mu.Unlock()

	if wait > timeout {
		time.Sleep(timeout)
		return ErrFrameTimeout
	}
	if wait > 0 {
		time.Sleep(wait)
	}
	return nil
}

// GetFrame は空いているバッファに次のフレームを書き込んで返す
// 空きバッファがない場合は実機と同じくエラーを返す
func (d *SyntheticDevice) GetFrame() ([]byte, uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, free := range d.queued {
		if !free {
			continue
		}
		d.queued[i] = false
		d.tick++
		d.last = time.Now()
		d.buffers[i] = frame.GradientI420(d.size.Width, d.size.Height, d.tick)
		return d.buffers[i], uint32(i), nil
	}
	return nil, 0, errors.New("空きバッファがありません")
}

func (d *SyntheticDevice) ReleaseFrame(index uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if int(index) >= len(d.queued) {
		return fmt.Errorf("無効なバッファ番号: %d", index)
	}
	d.queued[index] = true
	d.Released++
	return nil
}

// Outstanding はドライバーに返されていないバッファ数
func (d *SyntheticDevice) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, free := range d.queued {
		if !free {
			n++
		}
	}
	return n
}

func (d *SyntheticDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.streaming = false
	return nil
}

// Closed はCloseされたか
func (d *SyntheticDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
