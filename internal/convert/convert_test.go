package convert

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monokuro/internal/frame"
)

func rawFrom(t *testing.T, buf []byte, w, h int) *frame.Raw {
	t.Helper()
	raw, err := frame.FromI420(buf, w, h, nil)
	require.NoError(t, err)
	return raw
}

func TestToGray_ZeroLumaMidChroma(t *testing.T) {
	raw := rawFrom(t, frame.FillI420(640, 480, 0, 128), 640, 480)

	gray, err := New().ToGray(raw)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 640, 480), gray.Bounds())
	require.Len(t, gray.Pix, 640*480)
	for i, v := range gray.Pix {
		if v != 0 {
			t.Fatalf("pixel %d = %d, want 0", i, v)
		}
	}
}

func TestToGray_OneBytePerPixel(t *testing.T) {
	sizes := []image.Point{{2, 2}, {64, 48}, {320, 240}, {1280, 720}}
	conv := New()

	for _, sz := range sizes {
		raw := rawFrom(t, frame.GradientI420(sz.X, sz.Y, 0), sz.X, sz.Y)

		gray, err := conv.ToGray(raw)
		require.NoError(t, err, "%v", sz)

		assert.Equal(t, sz.X, gray.Bounds().Dx())
		assert.Equal(t, sz.Y, gray.Bounds().Dy())
		assert.Equal(t, sz.X, gray.Stride)
		assert.Len(t, gray.Pix, sz.X*sz.Y)
	}
}

func TestToGray_EqualsLuma(t *testing.T) {
	buf := frame.GradientI420(64, 48, 5)
	raw := rawFrom(t, buf, 64, 48)

	gray, err := New().ToGray(raw)
	require.NoError(t, err)

	assert.Equal(t, buf[:64*48], gray.Pix)
}

func TestToGray_Deterministic(t *testing.T) {
	buf := frame.GradientI420(160, 120, 2)
	conv := New()

	first, err := conv.ToGray(rawFrom(t, buf, 160, 120))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := conv.ToGray(rawFrom(t, buf, 160, 120))
		require.NoError(t, err)
		assert.Equal(t, first.Pix, again.Pix)
	}
}

func TestToGray_NoLeakBetweenFrames(t *testing.T) {
	conv := New()

	bright, err := conv.ToGray(rawFrom(t, frame.FillI420(32, 32, 200, 128), 32, 32))
	require.NoError(t, err)
	// 前のフレームの出力を破棄・変更しても次のフレームに影響しない
	for i := range bright.Pix {
		bright.Pix[i] = 0
	}
	bright = nil

	dark, err := conv.ToGray(rawFrom(t, frame.FillI420(32, 32, 10, 128), 32, 32))
	require.NoError(t, err)
	for _, v := range dark.Pix {
		require.Equal(t, byte(10), v)
	}
}

func TestToGray_OddSizeRejected(t *testing.T) {
	raw := frame.NewRaw(3, 3, make([]byte, 9), make([]byte, 4), make([]byte, 4), 3, 2, nil)

	_, err := New().ToGray(raw)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestToBitmap_FourChannels(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 8, 4))
	for i := range gray.Pix {
		gray.Pix[i] = byte(i * 7)
	}

	bitmap, err := New().ToBitmap(gray)
	require.NoError(t, err)

	assert.Equal(t, gray.Bounds(), bitmap.Bounds())
	require.Len(t, bitmap.Pix, 8*4*4)
	for i, v := range gray.Pix {
		px := bitmap.Pix[i*4 : i*4+4]
		assert.Equal(t, []byte{v, v, v, 255}, px, "pixel %d", i)
	}
}

func TestToBitmap_EmptyInput(t *testing.T) {
	conv := New()

	for _, gray := range []*image.Gray{nil, image.NewGray(image.Rect(0, 0, 0, 0)), image.NewGray(image.Rect(0, 0, 8, 0))} {
		bitmap, err := conv.ToBitmap(gray)
		assert.ErrorIs(t, err, ErrMalformedFrame)
		assert.Nil(t, bitmap)
	}
}

func TestSelfTest(t *testing.T) {
	assert.NoError(t, SelfTest())
}
