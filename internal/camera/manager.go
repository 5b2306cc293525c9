package camera

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"monokuro/internal/logging"
)

// DefaultCameraManager はManagerのデフォルト実装
// 検出したカメラにIDを割り振り、一覧と状態を保持する
type DefaultCameraManager struct {
	discovery Discovery
	cameras   map[string]*Camera
	mu        sync.RWMutex

	stopCh chan struct{}
	wg     sync.WaitGroup

	autoDiscovery bool
	scanInterval  time.Duration
}

// NewDefaultCameraManager は新しいDefaultCameraManagerを作成する
func NewDefaultCameraManager(discovery Discovery) *DefaultCameraManager {
	return &DefaultCameraManager{
		discovery:     discovery,
		cameras:       make(map[string]*Camera),
		stopCh:        make(chan struct{}),
		autoDiscovery: true,
		scanInterval:  30 * time.Second,
	}
}

// Start は初期スキャンを行い、バックグラウンドスキャンを開始する
// デバイスの問い合わせ中はロックを取らない
func (m *DefaultCameraManager) Start(ctx context.Context) error {
	result, err := m.scan(ctx)
	if err != nil {
		return fmt.Errorf("初期スキャンに失敗: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.merge(result)

	if m.autoDiscovery {
		m.wg.Add(1)
		go m.backgroundScan(ctx, m.stopCh, m.scanInterval)
	}

	return nil
}

// Stop はバックグラウンドスキャンを停止する
func (m *DefaultCameraManager) Stop(_ context.Context) error {
	m.mu.Lock()
	close(m.stopCh)
	m.mu.Unlock()

	// backgroundScanはロックを取るためロック外で待つ
	m.wg.Wait()

	m.mu.Lock()
	m.cameras = make(map[string]*Camera)
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	return nil
}

// GetCameras は現在管理されているカメラ一覧をデバイスパス順に取得する
func (m *DefaultCameraManager) GetCameras() []Camera {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cameras := make([]Camera, 0, len(m.cameras))
	for _, camera := range m.cameras {
		cameras = append(cameras, *camera)
	}
	sort.Slice(cameras, func(i, j int) bool {
		return cameras[i].Device < cameras[j].Device
	})

	return cameras
}

// GetCamera は指定されたIDのカメラを取得する
func (m *DefaultCameraManager) GetCamera(id string) (*Camera, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	camera, exists := m.cameras[id]
	if !exists {
		return nil, false
	}

	result := *camera
	return &result, true
}

// SetStatus はデバイスパスで指定したカメラの状態を更新する
// 未登録のデバイスは無視する
func (m *DefaultCameraManager) SetStatus(device string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, camera := range m.cameras {
		if camera.Device == device {
			camera.Status = status
			camera.LastSeen = time.Now()
			return
		}
	}
}

// DiscoverCameras はシステム内のカメラデバイスを再検出する
func (m *DefaultCameraManager) DiscoverCameras(ctx context.Context) ([]string, error) {
	result, err := m.scan(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.merge(result)
	return result.devices, nil
}

// scanResult はロック外で行ったスキャンの結果
type scanResult struct {
	devices []string
	infos   map[string]*DeviceInfo // 新しく見つかったデバイスの情報
}

// scan はデバイスを列挙し、未登録のデバイスだけ情報を問い合わせる
func (m *DefaultCameraManager) scan(ctx context.Context) (*scanResult, error) {
	devices, err := m.discovery.ScanDevices(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	known := make(map[string]bool, len(m.cameras))
	for _, camera := range m.cameras {
		known[camera.Device] = true
	}
	m.mu.RUnlock()

	result := &scanResult{devices: devices, infos: make(map[string]*DeviceInfo)}
	for _, device := range devices {
		if known[device] {
			continue
		}
		info, err := m.discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			logging.Warn("カメラの追加に失敗", "device", device, "error", err)
			continue
		}
		result.infos[device] = info
	}
	return result, nil
}

// merge はスキャン結果をカメラ一覧に反映する（ロック済み前提）
func (m *DefaultCameraManager) merge(result *scanResult) {
	present := make(map[string]bool, len(result.devices))
	for _, device := range result.devices {
		present[device] = true
	}

	known := make(map[string]*Camera, len(m.cameras))
	for _, camera := range m.cameras {
		known[camera.Device] = camera
	}

	for _, device := range result.devices {
		if camera, ok := known[device]; ok {
			camera.LastSeen = time.Now()
			continue
		}
		if info, ok := result.infos[device]; ok {
			m.addCamera(device, info)
		}
	}

	for id, camera := range m.cameras {
		if !present[camera.Device] {
			logging.Info("カメラが取り外されました", "device", camera.Device)
			delete(m.cameras, id)
		}
	}
}

// addCamera はカメラを追加する（ロック済み前提）
func (m *DefaultCameraManager) addCamera(device string, info *DeviceInfo) {
	formats := make([]string, 0, len(info.Formats))
	for _, f := range info.Formats {
		formats = append(formats, f.String())
	}

	cam := &Camera{
		ID:       uuid.New().String(),
		Name:     info.Name,
		Device:   device,
		Formats:  formats,
		Sizes:    info.Sizes,
		Status:   StatusInactive,
		LastSeen: time.Now(),
	}
	m.cameras[cam.ID] = cam

	logging.Info("カメラを検出しました", "id", cam.ID, "device", device, "name", cam.Name)
}

// backgroundScan は定期的なデバイススキャンを実行する
func (m *DefaultCameraManager) backgroundScan(ctx context.Context, stopCh <-chan struct{}, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.DiscoverCameras(ctx); err != nil {
				logging.Warn("定期スキャンに失敗", "error", err)
			}
		}
	}
}

// SetAutoDiscovery は自動検出の有効/無効を設定する
func (m *DefaultCameraManager) SetAutoDiscovery(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoDiscovery = enabled
}

// SetScanInterval はスキャン間隔を設定する
func (m *DefaultCameraManager) SetScanInterval(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanInterval = interval
}
