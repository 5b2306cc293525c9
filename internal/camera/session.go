package camera

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"monokuro/internal/frame"
	"monokuro/internal/logging"
	"monokuro/internal/notice"
)

// drainTimeout はClose時に処理中フレームの返却を待つ上限
const drainTimeout = time.Second

// SessionOptions はSessionManagerの設定
type SessionOptions struct {
	Opener   DeviceOpener
	Notifier notice.Notifier

	BufferCount  int           // ドライバーに要求するバッファ数 (= 同時に処理中にできるフレーム数)
	FrameTimeout time.Duration // WaitForFrameのタイムアウト
	AcquireWait  time.Duration // バッファ枯渇時に待つ時間
}

// SessionInfo は現在のセッションの情報
type SessionInfo struct {
	ID     string       `json:"id"`
	Device string       `json:"device"`
	Format string       `json:"format"`
	Size   Resolution   `json:"size"`
	State  SessionState `json:"state"`
}

// SessionManager は一台のカメラのキャプチャセッションを管理する
//
// Openでデバイスを開いて4:2:0プレーナ形式で構成し、繰り返しキャプチャを
// 開始する。取得したフレームはOpenが返すチャンネルに流れ、受け取った側が
// Releaseするまでバッファは再利用されない。
type SessionManager struct {
	opts SessionOptions

	mu        sync.RWMutex
	state     SessionState
	observers []func(SessionState)
	session   *session
	opening   bool // Openがデバイスを開いている間はtrue

	captured atomic.Uint64
	skipped  atomic.Uint64
	errors   atomic.Uint64
}

type session struct {
	id     string
	device string
	dev    Device
	format PixelFormat
	size   Resolution
	pool   *frame.Pool
	frames chan *frame.Raw

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	released atomic.Bool
	seq      uint64
}

// NewSessionManager は新しいSessionManagerを作成する
func NewSessionManager(opts SessionOptions) *SessionManager {
	if opts.BufferCount < 1 {
		opts.BufferCount = 2
	}
	if opts.FrameTimeout <= 0 {
		opts.FrameTimeout = time.Second
	}
	if opts.Notifier == nil {
		opts.Notifier = notice.Log{}
	}
	return &SessionManager{opts: opts, state: StateIdle}
}

// OnStateChange は状態遷移のたびに呼ばれる関数を登録する
func (m *SessionManager) OnStateChange(fn func(SessionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// State は現在の状態を返す
func (m *SessionManager) State() SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Info は現在のセッションの情報を返す
func (m *SessionManager) Info() SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := SessionInfo{State: m.state}
	if s := m.session; s != nil {
		info.ID = s.id
		info.Device = s.device
		info.Format = s.format.String()
		info.Size = s.size
	}
	return info
}

// Stats はキャプチャループのカウンタを返す
func (m *SessionManager) Stats() CaptureStats {
	return CaptureStats{
		Captured: m.captured.Load(),
		Skipped:  m.skipped.Load(),
		Errors:   m.errors.Load(),
	}
}

func (m *SessionManager) setState(state SessionState) {
	m.mu.Lock()
	m.state = state
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	logging.Debug("セッション状態", "state", string(state))
	for _, fn := range observers {
		fn(state)
	}
}

// Open はデバイスを開いてキャプチャを開始し、フレームのチャンネルを返す
//
// デバイスを開けない場合はログに残してエラーを返す。構成に失敗した場合は
// ユーザーに通知してfailedになり、別の解像度での再試行はしない。
// チャンネルはセッション終了時に閉じられる。
func (m *SessionManager) Open(ctx context.Context, device string, size Resolution) (<-chan *frame.Raw, error) {
	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("セッションは既に開かれています: %s", m.session.device)
	}
	if m.opening {
		m.mu.Unlock()
		return nil, fmt.Errorf("セッションは既に開かれています: %s", device)
	}
	m.opening = true
	m.mu.Unlock()

	m.setState(StateOpening)

	dev, err := m.opts.Opener.Open(device)
	if err != nil {
		logging.Error("カメラのオープンに失敗", "device", device, "error", err)
		m.endOpening()
		m.setState(StateClosed)
		return nil, fmt.Errorf("カメラ %s のオープンに失敗: %w", device, err)
	}

	m.setState(StateConfiguring)

	format, actual, err := m.configure(dev, size)
	if err != nil {
		_ = dev.Close()
		logging.Error("カメラの構成に失敗", "device", device, "size", size.String(), "error", err)
		m.opts.Notifier.Notify(notice.MessageConfigureFailed, notice.Short)
		m.endOpening()
		m.setState(StateFailed)
		return nil, fmt.Errorf("%w: %w", ErrConfigure, err)
	}

	s := &session{
		id:     uuid.New().String(),
		device: device,
		dev:    dev,
		format: format,
		size:   actual,
		pool:   frame.NewPool(m.opts.BufferCount),
		frames: make(chan *frame.Raw, m.opts.BufferCount),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.session = s
	m.opening = false
	m.mu.Unlock()

	logging.Info("キャプチャを開始",
		"session", s.id, "device", device, "format", format.String(), "size", actual.String())
	m.setState(StateStreaming)

	go m.captureLoop(ctx, s)

	return s.frames, nil
}

func (m *SessionManager) endOpening() {
	m.mu.Lock()
	m.opening = false
	m.mu.Unlock()
}

// configure はフォーマット、解像度、バッファ数を設定してストリーミングを開始する
func (m *SessionManager) configure(dev Device, want Resolution) (PixelFormat, Resolution, error) {
	format, ok := choosePlanar(dev.SupportedFormats())
	if !ok {
		return 0, Resolution{}, ErrUnsupportedFormat
	}

	got, actual, err := dev.Configure(format, want)
	if err != nil {
		return 0, Resolution{}, fmt.Errorf("フォーマットの設定に失敗: %w", err)
	}
	if got != format {
		return 0, Resolution{}, fmt.Errorf("%w: %s を要求したが %s が設定された", ErrUnsupportedFormat, format, got)
	}
	if actual != want {
		logging.Warn("要求と異なる解像度が設定されました", "want", want.String(), "got", actual.String())
	}

	if err := dev.SetBufferCount(m.opts.BufferCount); err != nil {
		return 0, Resolution{}, fmt.Errorf("バッファ数の設定に失敗: %w", err)
	}
	if err := dev.StartStreaming(); err != nil {
		return 0, Resolution{}, fmt.Errorf("ストリーミングの開始に失敗: %w", err)
	}

	return format, actual, nil
}

// captureLoop は繰り返しキャプチャを行う
//
// バッファプールが枯渇している場合はAcquireWaitだけ待ち、それでも空かなければ
// 最新フレームを読み捨てる。読み取りエラーは切断とみなしてセッションを閉じる。
func (m *SessionManager) captureLoop(ctx context.Context, s *session) {
	defer close(s.done)
	defer m.teardown(s)
	defer close(s.frames)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		err := s.dev.WaitForFrame(m.opts.FrameTimeout)
		if errors.Is(err, ErrFrameTimeout) {
			continue
		}
		if err != nil {
			m.errors.Add(1)
			logging.Error("カメラが切断されました", "session", s.id, "device", s.device, "error", err)
			return
		}

		if err := s.pool.TryAcquire(m.opts.AcquireWait); err != nil {
			m.skipFrame(s)
			continue
		}

		buf, index, err := s.dev.GetFrame()
		if err != nil {
			s.pool.Release()
			m.errors.Add(1)
			logging.Warn("フレームの取得に失敗", "session", s.id, "error", err)
			continue
		}

		raw, err := wrapFrame(s.format, buf, s.size, s.releaser(index))
		if err != nil {
			_ = s.dev.ReleaseFrame(index)
			s.pool.Release()
			m.errors.Add(1)
			logging.Warn("フレームを破棄", "session", s.id, "error", err)
			continue
		}

		s.seq++
		raw.Seq = s.seq
		m.captured.Add(1)

		select {
		case s.frames <- raw:
		case <-s.stopCh:
			raw.Release()
			return
		case <-ctx.Done():
			raw.Release()
			return
		}
	}
}

// skipFrame は最新フレームを読んですぐ返す
func (m *SessionManager) skipFrame(s *session) {
	m.skipped.Add(1)

	_, index, err := s.dev.GetFrame()
	if err != nil {
		return
	}
	if err := s.dev.ReleaseFrame(index); err != nil {
		logging.Debug("フレームの返却に失敗", "session", s.id, "error", err)
	}
}

// releaser はフレームをドライバーとプールに返す関数を作る
func (s *session) releaser(index uint32) func() {
	return func() {
		if !s.released.Load() {
			if err := s.dev.ReleaseFrame(index); err != nil {
				logging.Debug("フレームの返却に失敗", "session", s.id, "index", index, "error", err)
			}
		}
		s.pool.Release()
	}
}

// teardown は処理中フレームの返却を待ってからデバイスを閉じる
func (m *SessionManager) teardown(s *session) {
	deadline := time.Now().Add(drainTimeout)
	for s.pool.InFlight() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := s.pool.InFlight(); n > 0 {
		logging.Warn("返却されていないフレームが残っています", "session", s.id, "in_flight", n)
	}
	s.released.Store(true)

	if err := s.dev.StopStreaming(); err != nil {
		logging.Debug("ストリーミングの停止に失敗", "session", s.id, "error", err)
	}
	if err := s.dev.Close(); err != nil {
		logging.Warn("デバイスのクローズに失敗", "session", s.id, "error", err)
	}

	m.mu.Lock()
	if m.session == s {
		m.session = nil
	}
	m.mu.Unlock()

	logging.Info("キャプチャを終了", "session", s.id, "device", s.device)
	m.setState(StateClosed)
}

// Close はセッションを終了し、デバイスが閉じられるまで待つ
func (m *SessionManager) Close() error {
	m.mu.RLock()
	s := m.session
	m.mu.RUnlock()

	if s == nil {
		return nil
	}

	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
	return nil
}
