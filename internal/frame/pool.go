package frame

import (
	"errors"
	"time"
)

// ErrPoolExhausted は全バッファが処理中で取得できなかったことを示す
var ErrPoolExhausted = errors.New("取得バッファが枯渇しています")

// Pool は同時に処理中にできるフレーム数を制限するトークンプール
//
// カメラドライバーのバッファ数と同じ上限を持ち、上限に達している間は
// 新しいフレームを取得しない。
type Pool struct {
	tokens chan struct{}
}

// NewPool はサイズnのプールを作成する
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{tokens: make(chan struct{}, n)}
}

// TryAcquire はトークンを1つ確保する
// 空きが無ければ最大waitだけ待ち、それでも無ければErrPoolExhaustedを返す
func (p *Pool) TryAcquire(wait time.Duration) error {
	select {
	case p.tokens <- struct{}{}:
		return nil
	default:
	}

	if wait <= 0 {
		return ErrPoolExhausted
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case p.tokens <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrPoolExhausted
	}
}

// Release はトークンを1つ返す
func (p *Pool) Release() {
	select {
	case <-p.tokens:
	default:
		// 確保されていないトークンの返却は無視する
	}
}

// InFlight は現在確保されているトークン数
func (p *Pool) InFlight() int { return len(p.tokens) }

// Cap はプールのサイズ
func (p *Pool) Cap() int { return cap(p.tokens) }
