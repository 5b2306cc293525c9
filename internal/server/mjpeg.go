package server

import (
	"fmt"
	"image"
	"image/draw"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"

	"monokuro/internal/logging"
)

// Broadcaster は表示面に反映された画像をJPEGにしてMJPEGの購読者に配る
//
// 購読者ごとにキューを1つ持ち、送信が追いつかない購読者には
// 古いフレームを捨てて最新だけを渡す。
type Broadcaster struct {
	quality int

	mu     sync.RWMutex
	subs   map[int]chan []byte
	nextID int
	latest []byte

	encoded atomic.Uint64
	dropped atomic.Uint64
}

// NewBroadcaster は新しいBroadcasterを作成する
func NewBroadcaster(quality int) *Broadcaster {
	return &Broadcaster{
		quality: quality,
		subs:    make(map[int]chan []byte),
	}
}

// Lock は描画用のキャンバスを返す
func (b *Broadcaster) Lock(width, height int) (draw.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("無効なサイズ: %dx%d", width, height)
	}
	return image.NewRGBA(image.Rect(0, 0, width, height)), nil
}

// UnlockAndPost はキャンバスをJPEGにして購読者に配る
func (b *Broadcaster) UnlockAndPost(c draw.Image) error {
	jpg, err := b.encode(c)
	if err != nil {
		return err
	}
	b.encoded.Add(1)

	b.mu.Lock()
	b.latest = jpg
	for _, ch := range b.subs {
		b.offer(ch, jpg)
	}
	b.mu.Unlock()
	return nil
}

// offer はキューが埋まっていれば古いフレームを捨ててから入れる
func (b *Broadcaster) offer(ch chan []byte, jpg []byte) {
	select {
	case ch <- jpg:
		return
	default:
	}

	select {
	case <-ch:
		b.dropped.Add(1)
	default:
	}

	select {
	case ch <- jpg:
	default:
		b.dropped.Add(1)
	}
}

// encode は画像をグレースケールのJPEGにする
func (b *Broadcaster) encode(img image.Image) ([]byte, error) {
	mat, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return nil, fmt.Errorf("Matの作成に失敗: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(mat, &gray, gocv.ColorBGRAToGray); err != nil {
		return nil, fmt.Errorf("グレースケール変換に失敗: %w", err)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, gray, []int{gocv.IMWriteJpegQuality, b.quality})
	if err != nil {
		return nil, fmt.Errorf("JPEGへの変換に失敗: %w", err)
	}
	defer buf.Close()

	// NativeByteBufferはClose後に使えないのでコピーする
	return append([]byte(nil), buf.GetBytes()...), nil
}

// Subscribe は新しい購読者を登録する
// 最新のフレームがあればすぐに受け取れる
func (b *Broadcaster) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.latest != nil {
		ch <- b.latest
	}
	n := len(b.subs)
	b.mu.Unlock()

	logging.Debug("MJPEG購読者を追加", "id", id, "subscribers", n)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			n := len(b.subs)
			b.mu.Unlock()
			logging.Debug("MJPEG購読者を削除", "id", id, "subscribers", n)
		})
	}
}

// Latest は最後にエンコードしたJPEGを返す
func (b *Broadcaster) Latest() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest
}

// Subscribers は現在の購読者数を返す
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// StreamStats は配信のカウンタ
type StreamStats struct {
	Encoded     uint64 `json:"encoded"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Stats はカウンタのスナップショットを返す
func (b *Broadcaster) Stats() StreamStats {
	return StreamStats{
		Encoded:     b.encoded.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: b.Subscribers(),
	}
}
