// Package pipeline はカメラから表示までの流れを組み立てる
//
// 許可確認 → カメラと解像度の選択 → セッション開始 → フレームごとに
// グレースケール変換 → 表示、の順に進む。フレームは一つのゴルーチンで
// 順に処理し、変換に成功してもしなくても必ずRelease する。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"monokuro/internal/camera"
	"monokuro/internal/frame"
	"monokuro/internal/logging"
	"monokuro/internal/notice"
	"monokuro/internal/permission"
)

// State はパイプラインの状態
type State string

const (
	StateIdle      State = "idle"
	StateDenied    State = "denied"    // 許可が得られなかった
	StateNoCamera  State = "no_camera" // 使えるカメラがない
	StateFailed    State = "failed"    // カメラの構成に失敗した
	StateStreaming State = "streaming"
	StateStopped   State = "stopped"
)

// GrayConverter は生フレームをグレースケール画像にする
type GrayConverter interface {
	ToGray(raw *frame.Raw) (*image.Gray, error)
}

// FramePresenter はグレースケール画像を表示する
type FramePresenter interface {
	Present(gray *image.Gray) error
}

// Options はPipelineの構成要素
type Options struct {
	Gate      permission.Gate
	Discovery camera.Discovery
	Sessions  *camera.SessionManager
	Converter GrayConverter
	Presenter FramePresenter
	Notifier  notice.Notifier
	Cameras   camera.Manager // 任意。状態表示用

	Device string            // 空なら自動選択
	Size   camera.Resolution // ゼロなら最初に列挙された解像度
}

// Counters はフレーム処理のカウンタ
type Counters struct {
	FramesIn  uint64 `json:"frames_in"`
	Converted uint64 `json:"converted"`
	Presented uint64 `json:"presented"`
	Dropped   uint64 `json:"dropped"`
	Errors    uint64 `json:"errors"`
}

// Status はパイプラインの状態のスナップショット
type Status struct {
	State    State              `json:"state"`
	Session  camera.SessionInfo `json:"session"`
	Counters Counters           `json:"counters"`
}

// Pipeline はカメラから表示までを駆動する
type Pipeline struct {
	opts Options

	mu     sync.RWMutex
	state  State
	device string
	done   chan struct{}

	framesIn  atomic.Uint64
	converted atomic.Uint64
	presented atomic.Uint64
	errors    atomic.Uint64
}

// New は新しいPipelineを作成する
func New(opts Options) *Pipeline {
	if opts.Notifier == nil {
		opts.Notifier = notice.Log{}
	}
	return &Pipeline{opts: opts, state: StateIdle}
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	logging.Info("パイプライン状態", "state", string(s))
}

// State は現在の状態を返す
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Start は許可を確認してキャプチャを開始する
//
// 許可が得られない場合は通知してdeniedになり、セッションは開かない。
// 構成に失敗した場合はfailedになる。どちらも再試行しない。
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.opts.Gate.Request(ctx, p.opts.Device); err != nil {
		if !errors.Is(err, permission.ErrPermissionDenied) {
			logging.Error("許可の確認に失敗", "error", err)
		}
		p.opts.Notifier.Notify(notice.MessagePermissionRequired, notice.Long)
		p.setState(StateDenied)
		return fmt.Errorf("%w: %w", permission.ErrPermissionDenied, err)
	}

	info, err := camera.SelectDevice(ctx, p.opts.Discovery, p.opts.Device)
	if err != nil {
		logging.Error("カメラが見つかりません", "device", p.opts.Device, "error", err)
		p.setState(StateNoCamera)
		return err
	}

	size, err := camera.SelectResolution(info, p.opts.Size)
	if err != nil {
		logging.Error("解像度を決められません", "device", info.Device, "error", err)
		p.opts.Notifier.Notify(notice.MessageConfigureFailed, notice.Short)
		p.setState(StateFailed)
		return err
	}

	logging.Info("カメラを選択", "device", info.Device, "name", info.Name, "size", size.String())

	frames, err := p.opts.Sessions.Open(ctx, info.Device, size)
	if err != nil {
		if errors.Is(err, camera.ErrConfigure) {
			p.setState(StateFailed)
		} else {
			p.setState(StateStopped)
		}
		return err
	}

	done := make(chan struct{})
	p.mu.Lock()
	p.device = info.Device
	p.done = done
	p.mu.Unlock()

	p.setCameraStatus(info.Device, camera.StatusActive)
	p.setState(StateStreaming)

	go p.consume(frames, done)
	return nil
}

// consume はフレームを一つずつ処理する
func (p *Pipeline) consume(frames <-chan *frame.Raw, done chan struct{}) {
	defer close(done)

	for raw := range frames {
		p.handle(raw)
	}

	p.mu.RLock()
	device := p.device
	p.mu.RUnlock()

	p.setCameraStatus(device, camera.StatusInactive)
	p.setState(StateStopped)
}

// handle は一フレームを変換して表示に回し、必ずReleaseする
func (p *Pipeline) handle(raw *frame.Raw) {
	defer raw.Release()

	p.framesIn.Add(1)

	gray, err := p.opts.Converter.ToGray(raw)
	if err != nil {
		p.errors.Add(1)
		logging.Warn("フレームの変換に失敗", "seq", raw.Seq, "error", err)
		return
	}
	p.converted.Add(1)

	if err := p.opts.Presenter.Present(gray); err != nil {
		p.errors.Add(1)
		logging.Warn("フレームの表示に失敗", "seq", raw.Seq, "error", err)
		return
	}
	p.presented.Add(1)
}

func (p *Pipeline) setCameraStatus(device string, status camera.Status) {
	if p.opts.Cameras != nil && device != "" {
		p.opts.Cameras.SetStatus(device, status)
	}
}

// Stop はセッションを閉じ、処理中のフレームがなくなるまで待つ
func (p *Pipeline) Stop() error {
	err := p.opts.Sessions.Close()

	p.mu.RLock()
	done := p.done
	p.mu.RUnlock()

	if done != nil {
		<-done
	}
	return err
}

// Done はフレーム処理が終わると閉じるチャンネルを返す
// 開始前はnilを返す
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.done
}

// Counters はカウンタのスナップショットを返す
func (p *Pipeline) Counters() Counters {
	return Counters{
		FramesIn:  p.framesIn.Load(),
		Converted: p.converted.Load(),
		Presented: p.presented.Load(),
		Dropped:   p.opts.Sessions.Stats().Skipped,
		Errors:    p.errors.Load(),
	}
}

// Status は状態のスナップショットを返す
func (p *Pipeline) Status() Status {
	return Status{
		State:    p.State(),
		Session:  p.opts.Sessions.Info(),
		Counters: p.Counters(),
	}
}
