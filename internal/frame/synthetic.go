package frame

// FillI420 はI420バッファを作成し、輝度と色差をそれぞれ一定値で埋める
func FillI420(width, height int, luma, chroma byte) []byte {
	buf := make([]byte, InterleavedSize(width, height))
	ySize := width * height
	for i := range buf {
		if i < ySize {
			buf[i] = luma
		} else {
			buf[i] = chroma
		}
	}
	return buf
}

// GradientI420 は横方向のグラデーションと移動する縞を持つI420バッファを作成する
// tickを進めると縞が右へ流れる
func GradientI420(width, height int, tick int) []byte {
	buf := FillI420(width, height, 0, 128)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := (x * 255) / max(width-1, 1)
			if ((x+tick*4)/32)%2 == 0 {
				v = 255 - v
			}
			buf[y*width+x] = byte(v)
		}
	}
	return buf
}
