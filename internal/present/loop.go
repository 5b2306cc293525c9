package present

import (
	"sync"
	"sync/atomic"
)

// Loop は専用のゴルーチンで関数を順に実行するDispatcher
//
// キューは1つだけで、実行が追いつかない場合は古いものを捨てて
// 最新の描画だけを残す。
type Loop struct {
	queue chan func()
	done  chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped atomic.Uint64
}

// NewLoop はLoopを作成して開始する
func NewLoop() *Loop {
	l := &Loop{
		queue: make(chan func(), 1),
		done:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Do はfnをキューに入れる
func (l *Loop) Do(fn func()) {
	select {
	case <-l.done:
		return
	default:
	}

	select {
	case l.queue <- fn:
		return
	default:
	}

	select {
	case <-l.queue:
		l.dropped.Add(1)
	default:
	}

	select {
	case l.queue <- fn:
	default:
		l.dropped.Add(1)
	}
}

// Dropped は捨てた件数を返す
func (l *Loop) Dropped() uint64 {
	return l.dropped.Load()
}

// Close はループを停止する
// キューに残っている関数は実行しない
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
}

func (l *Loop) run() {
	defer l.wg.Done()

	for {
		select {
		case <-l.done:
			return
		case fn := <-l.queue:
			fn()
		}
	}
}
