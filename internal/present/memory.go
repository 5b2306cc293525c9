package present

import (
	"fmt"
	"image"
	"image/draw"
	"sync"
)

// MemorySurface はメモリ上の画像に描画する表示面
// 反映のたびにonPostが呼ばれる
type MemorySurface struct {
	mu     sync.RWMutex
	latest *image.RGBA
	posts  int
	onPost func(img *image.RGBA)
}

// NewMemorySurface は新しいMemorySurfaceを作成する
func NewMemorySurface(onPost func(img *image.RGBA)) *MemorySurface {
	return &MemorySurface{onPost: onPost}
}

// Lock は新しいキャンバスを返す
// 前回の内容は引き継がない
func (s *MemorySurface) Lock(width, height int) (draw.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("無効なサイズ: %dx%d", width, height)
	}
	return image.NewRGBA(image.Rect(0, 0, width, height)), nil
}

// UnlockAndPost はキャンバスを最新の画像として保持する
func (s *MemorySurface) UnlockAndPost(canvas draw.Image) error {
	img, ok := canvas.(*image.RGBA)
	if !ok {
		return fmt.Errorf("このキャンバスは反映できません: %T", canvas)
	}

	s.mu.Lock()
	s.latest = img
	s.posts++
	s.mu.Unlock()

	if s.onPost != nil {
		s.onPost(img)
	}
	return nil
}

// Latest は最後に反映された画像と反映回数を返す
func (s *MemorySurface) Latest() (*image.RGBA, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.posts
}
