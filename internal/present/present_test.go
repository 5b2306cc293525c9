package present

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monokuro/internal/convert"
)

// grayToRGBA はgocvを使わずに同じ変換を行うテスト用のBitmapConverter
type grayToRGBA struct{}

func (grayToRGBA) ToBitmap(gray *image.Gray) (*image.RGBA, error) {
	out := image.NewRGBA(gray.Bounds())
	draw.Draw(out, out.Bounds(), gray, gray.Bounds().Min, draw.Src)
	return out, nil
}

type failingConverter struct{}

func (failingConverter) ToBitmap(*image.Gray) (*image.RGBA, error) {
	return nil, errors.New("boom")
}

type lockFailSurface struct{}

func (lockFailSurface) Lock(int, int) (draw.Image, error) { return nil, errors.New("surface gone") }
func (lockFailSurface) UnlockAndPost(draw.Image) error    { return nil }

func testGray(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = byte(i)
	}
	return g
}

func TestPresenter_DrawsAtOriginUnscaled(t *testing.T) {
	surface := NewMemorySurface(nil)
	p := New(grayToRGBA{}, Inline, surface)

	gray := testGray(16, 8)
	require.NoError(t, p.Present(gray))

	img, posts := surface.Latest()
	require.NotNil(t, img)
	assert.Equal(t, 1, posts)
	assert.Equal(t, image.Rect(0, 0, 16, 8), img.Bounds())

	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			v := gray.GrayAt(x, y).Y
			assert.Equal(t, color.RGBA{R: v, G: v, B: v, A: 255}, img.RGBAAt(x, y))
		}
	}

	assert.Equal(t, Stats{Posted: 1, Presented: 1}, p.Stats())
}

func TestPresenter_FullRedrawEachFrame(t *testing.T) {
	surface := NewMemorySurface(nil)
	p := New(grayToRGBA{}, Inline, surface)

	bright := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range bright.Pix {
		bright.Pix[i] = 255
	}
	require.NoError(t, p.Present(bright))
	require.NoError(t, p.Present(image.NewGray(image.Rect(0, 0, 4, 4))))

	img, posts := surface.Latest()
	assert.Equal(t, 2, posts)
	for _, v := range img.Pix[:3] {
		assert.Zero(t, v, "前のフレームが残っている")
	}
}

func TestPresenter_ConverterError(t *testing.T) {
	surface := NewMemorySurface(nil)
	p := New(failingConverter{}, Inline, surface)

	assert.Error(t, p.Present(testGray(4, 4)))

	_, posts := surface.Latest()
	assert.Zero(t, posts)
	assert.EqualValues(t, 1, p.Stats().Errors)
}

func TestPresenter_SurfaceErrorDoesNotPanic(t *testing.T) {
	p := New(grayToRGBA{}, Inline, lockFailSurface{})

	require.NotPanics(t, func() {
		assert.NoError(t, p.Present(testGray(4, 4)))
	})
	assert.Equal(t, Stats{Posted: 1, Errors: 1}, p.Stats())
}

func TestPresenter_DoesNotWaitForDispatch(t *testing.T) {
	var mu sync.Mutex
	var pending []func()
	deferred := DispatcherFunc(func(fn func()) {
		mu.Lock()
		pending = append(pending, fn)
		mu.Unlock()
	})

	surface := NewMemorySurface(nil)
	p := New(grayToRGBA{}, deferred, surface)

	require.NoError(t, p.Present(testGray(4, 4)))

	// 描画はまだ実行されていない
	_, posts := surface.Latest()
	assert.Zero(t, posts)

	mu.Lock()
	for _, fn := range pending {
		fn()
	}
	mu.Unlock()

	_, posts = surface.Latest()
	assert.Equal(t, 1, posts)
}

func TestPresenter_WithOpenCV(t *testing.T) {
	surface := NewMemorySurface(nil)
	p := New(convert.New(), Inline, surface)

	gray := testGray(8, 8)
	require.NoError(t, p.Present(gray))

	img, _ := surface.Latest()
	require.NotNil(t, img)
	assert.Equal(t, color.RGBA{R: 9, G: 9, B: 9, A: 255}, img.RGBAAt(1, 1))
}

func TestLoop_RunsInOrder(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()

	done := make(chan int, 1)
	loop.Do(func() { done <- 1 })

	select {
	case v := <-done:
		assert.Equal(t, 1, v)
	case <-time.After(time.Second):
		t.Fatal("loop did not run the function")
	}
}

func TestLoop_DropsOldest(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	loop.Do(func() {
		close(started)
		<-block
	})
	<-started

	ran := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		i := i
		loop.Do(func() { ran <- i })
	}
	close(block)

	select {
	case v := <-ran:
		assert.Equal(t, 3, v, "最新の描画だけが残る")
	case <-time.After(time.Second):
		t.Fatal("loop did not run the latest function")
	}
	assert.EqualValues(t, 2, loop.Dropped())
}

func TestLoop_DoAfterClose(t *testing.T) {
	loop := NewLoop()
	loop.Close()

	assert.NotPanics(t, func() { loop.Do(func() {}) })
}

func TestMemorySurface_InvalidSize(t *testing.T) {
	_, err := NewMemorySurface(nil).Lock(0, 10)
	assert.Error(t, err)
}
