package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"monokuro/internal/notice"
)

func newTestSession(dev *SyntheticDevice, rec *notice.Recorder) *SessionManager {
	return NewSessionManager(SessionOptions{
		Opener:       DeviceOpenerFor(dev),
		Notifier:     rec,
		BufferCount:  2,
		FrameTimeout: 50 * time.Millisecond,
		AcquireWait:  time.Millisecond,
	})
}

func TestSessionManager_StreamsFrames(t *testing.T) {
	ctx := context.Background()
	dev := NewSyntheticDevice(nil, time.Millisecond)
	rec := notice.NewRecorder(10, nil)
	manager := newTestSession(dev, rec)

	var mu sync.Mutex
	var states []SessionState
	manager.OnStateChange(func(s SessionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	frames, err := manager.Open(ctx, "/dev/video0", Resolution{Width: 64, Height: 48})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if manager.State() != StateStreaming {
		t.Errorf("Expected streaming, got %s", manager.State())
	}

	info := manager.Info()
	if info.Format != "YU12" || info.Size != (Resolution{Width: 64, Height: 48}) || info.ID == "" {
		t.Errorf("Unexpected session info: %+v", info)
	}

	var lastSeq uint64
	for i := 0; i < 5; i++ {
		select {
		case raw := <-frames:
			if raw.Width != 64 || raw.Height != 48 {
				t.Errorf("Expected 64x48 frame, got %dx%d", raw.Width, raw.Height)
			}
			if len(raw.Y) != 64*48 || len(raw.Cb) != 32*24 || len(raw.Cr) != 32*24 {
				t.Errorf("Unexpected plane sizes: %d %d %d", len(raw.Y), len(raw.Cb), len(raw.Cr))
			}
			if raw.Seq <= lastSeq {
				t.Errorf("Expected increasing sequence, got %d after %d", raw.Seq, lastSeq)
			}
			lastSeq = raw.Seq
			raw.Release()
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for frame")
		}
	}

	// 残りのフレームを返却しながら閉じる
	drained := make(chan struct{})
	go func() {
		for r := range frames {
			r.Release()
		}
		close(drained)
	}()

	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	<-drained

	if !dev.Closed() {
		t.Error("Expected device to be closed")
	}
	if manager.State() != StateClosed {
		t.Errorf("Expected closed, got %s", manager.State())
	}
	if len(rec.Messages()) != 0 {
		t.Errorf("Expected no notices, got %v", rec.Messages())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []SessionState{StateOpening, StateConfiguring, StateStreaming, StateClosed}
	if len(states) != len(want) {
		t.Fatalf("Expected states %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state[%d]: expected %s, got %s", i, want[i], states[i])
		}
	}
}

func TestSessionManager_ConfigureFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(dev *SyntheticDevice)
	}{
		{
			name:  "フォーマット設定の失敗",
			setup: func(dev *SyntheticDevice) { dev.FailConfigure = errors.New("EINVAL") },
		},
		{
			name:  "ストリーミング開始の失敗",
			setup: func(dev *SyntheticDevice) { dev.FailStart = errors.New("EBUSY") },
		},
		{
			name:  "プレーナ形式なし",
			setup: func(dev *SyntheticDevice) { dev.SetFormats(0x56595559) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := NewSyntheticDevice(nil, time.Millisecond)
			tt.setup(dev)
			rec := notice.NewRecorder(10, nil)
			manager := newTestSession(dev, rec)

			frames, err := manager.Open(context.Background(), "/dev/video0", Resolution{Width: 64, Height: 48})
			if !errors.Is(err, ErrConfigure) {
				t.Fatalf("Expected ErrConfigure, got %v", err)
			}
			if frames != nil {
				t.Error("Expected no frame channel on failure")
			}
			if manager.State() != StateFailed {
				t.Errorf("Expected failed, got %s", manager.State())
			}
			if !dev.Closed() {
				t.Error("Expected device to be closed after configure failure")
			}

			notices := rec.Notices()
			if len(notices) != 1 || notices[0].Message != notice.MessageConfigureFailed || notices[0].Duration != notice.Short {
				t.Errorf("Expected a single short configure notice, got %+v", notices)
			}
		})
	}
}

func TestSessionManager_OpenError(t *testing.T) {
	rec := notice.NewRecorder(10, nil)
	manager := NewSessionManager(SessionOptions{
		Opener: OpenFunc(func(string) (Device, error) {
			return nil, errors.New("no such device")
		}),
		Notifier: rec,
	})

	if _, err := manager.Open(context.Background(), "/dev/video7", Resolution{Width: 64, Height: 48}); err == nil {
		t.Fatal("Expected error for unopenable device")
	}

	// オープンエラーはログのみで通知しない
	if len(rec.Messages()) != 0 {
		t.Errorf("Expected no notices, got %v", rec.Messages())
	}
	if manager.State() != StateClosed {
		t.Errorf("Expected closed, got %s", manager.State())
	}
}

func TestSessionManager_SkipsWhenPoolExhausted(t *testing.T) {
	dev := NewSyntheticDevice(nil, time.Millisecond)
	manager := newTestSession(dev, notice.NewRecorder(10, nil))

	frames, err := manager.Open(context.Background(), "/dev/video0", Resolution{Width: 16, Height: 16})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// 2フレームを受け取ったまま返さない
	var held []interface{ Release() }
	for len(held) < 2 {
		select {
		case raw := <-frames:
			held = append(held, raw)
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for frame")
		}
	}

	// 枯渇中もループは止まらずにフレームを読み捨てる
	deadline := time.Now().Add(2 * time.Second)
	for manager.Stats().Skipped == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if manager.Stats().Skipped == 0 {
		t.Fatal("Expected frames to be skipped while the pool is exhausted")
	}

	for _, raw := range held {
		raw.Release()
	}

	// 返却後は再び流れる
	select {
	case raw := <-frames:
		raw.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("Expected frames to resume after release")
	}

	go func() {
		for r := range frames {
			r.Release()
		}
	}()

	done := make(chan struct{})
	go func() {
		_ = manager.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close deadlocked")
	}

	if dev.Outstanding() != 0 {
		t.Errorf("Expected all buffers returned, %d outstanding", dev.Outstanding())
	}
}

func TestSessionManager_DisconnectClosesSession(t *testing.T) {
	dev := NewSyntheticDevice(nil, time.Millisecond)
	manager := newTestSession(dev, notice.NewRecorder(10, nil))

	closed := make(chan struct{})
	manager.OnStateChange(func(s SessionState) {
		if s == StateClosed {
			close(closed)
		}
	})

	frames, err := manager.Open(context.Background(), "/dev/video0", Resolution{Width: 16, Height: 16})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	raw := <-frames
	raw.Release()

	dev.mu.Lock()
	dev.FailWait = errors.New("ENODEV")
	dev.mu.Unlock()

	go func() {
		for r := range frames {
			r.Release()
		}
	}()

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("Expected session to close after disconnect")
	}

	if !dev.Closed() {
		t.Error("Expected device handle to be released")
	}
	if manager.Stats().Errors == 0 {
		t.Error("Expected disconnect to be counted as an error")
	}
}

func TestSessionManager_RejectsSecondOpen(t *testing.T) {
	dev := NewSyntheticDevice(nil, time.Millisecond)
	manager := newTestSession(dev, notice.NewRecorder(10, nil))

	frames, err := manager.Open(context.Background(), "/dev/video0", Resolution{Width: 16, Height: 16})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	go func() {
		for r := range frames {
			r.Release()
		}
	}()
	defer func() { _ = manager.Close() }()

	if _, err := manager.Open(context.Background(), "/dev/video0", Resolution{Width: 16, Height: 16}); err == nil {
		t.Error("Expected second Open to fail")
	}
}

func TestSessionManager_ConcurrentOpenAllowsOne(t *testing.T) {
	for i := 0; i < 50; i++ {
		var opens sync.WaitGroup
		var mu sync.Mutex
		devices := make([]*SyntheticDevice, 0, 2)

		manager := NewSessionManager(SessionOptions{
			Opener: OpenFunc(func(string) (Device, error) {
				// 両方のOpenが確認を通り抜けやすいよう少し待つ
				time.Sleep(time.Millisecond)
				dev := NewSyntheticDevice(nil, time.Millisecond)
				mu.Lock()
				devices = append(devices, dev)
				mu.Unlock()
				return dev, nil
			}),
			Notifier:     notice.NewRecorder(10, nil),
			BufferCount:  2,
			FrameTimeout: 50 * time.Millisecond,
			AcquireWait:  time.Millisecond,
		})

		start := make(chan struct{})
		results := make(chan error, 2)
		for j := 0; j < 2; j++ {
			opens.Add(1)
			go func() {
				defer opens.Done()
				<-start
				frames, err := manager.Open(context.Background(), "/dev/video0", Resolution{Width: 16, Height: 16})
				if err == nil {
					go func() {
						for r := range frames {
							r.Release()
						}
					}()
				}
				results <- err
			}()
		}
		close(start)
		opens.Wait()
		close(results)

		succeeded := 0
		for err := range results {
			if err == nil {
				succeeded++
			}
		}
		if succeeded != 1 {
			t.Fatalf("Expected exactly one Open to succeed, got %d", succeeded)
		}

		if err := manager.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		mu.Lock()
		for _, dev := range devices {
			if !dev.Closed() {
				t.Errorf("Device left open after Close")
			}
		}
		if len(devices) != 1 {
			t.Errorf("Expected one device to be opened, got %d", len(devices))
		}
		mu.Unlock()
	}
}

func TestOpenerRegistry(t *testing.T) {
	registry := NewOpenerRegistry()

	drivers := registry.Drivers()
	if len(drivers) != 2 || drivers[0] != DriverSynthetic || drivers[1] != DriverV4L2 {
		t.Errorf("Unexpected drivers: %v", drivers)
	}

	opener, err := registry.Opener(DriverSynthetic)
	if err != nil {
		t.Fatalf("Opener failed: %v", err)
	}
	dev, err := opener.Open("synthetic0")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := dev.(*SyntheticDevice); !ok {
		t.Errorf("Expected *SyntheticDevice, got %T", dev)
	}

	if _, err := registry.Opener("gige"); err == nil {
		t.Error("Expected error for unknown driver")
	}
}
