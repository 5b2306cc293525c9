package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"monokuro/internal/logging"
)

var (
	videoDevicePattern = regexp.MustCompile(`^/dev/video\d+$`)
	videoNumberPattern = regexp.MustCompile(`video(\d+)`)
)

// LinuxDiscovery はLinux環境でのカメラデバイス検出を実装する
type LinuxDiscovery struct {
	pattern string
	probe   OpenFunc
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
// probeはフォーマットと解像度の問い合わせのためにデバイスを一時的に開く
func NewLinuxDiscovery(probe OpenFunc) Discovery {
	if probe == nil {
		probe = OpenV4L2
	}
	return &LinuxDiscovery{pattern: "/dev/video*", probe: probe}
}

// ScanDevices は4:2:0プレーナ形式を提供するデバイスをデバイス番号順に返す
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	var devices []string

	matches, err := filepath.Glob(d.pattern)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !d.IsDeviceAvailable(ctx, match) {
			continue
		}

		// メタデータ用ノードなど映像フォーマットを持たないデバイスはここで除外される
		info, err := d.probeDevice(match)
		if err != nil {
			logging.Debug("デバイスの問い合わせに失敗", "device", match, "error", err)
			continue
		}
		if info.Planar() {
			devices = append(devices, match)
		}
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if !videoDevicePattern.MatchString(device) {
		return false
	}

	if _, err := os.Stat(device); os.IsNotExist(err) {
		return false
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()

	return true
}

// GetDeviceInfo はデバイスの詳細情報を取得する
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if !d.IsDeviceAvailable(ctx, device) {
		return nil, fmt.Errorf("デバイスが利用できません: %s", device)
	}

	info, err := d.probeDevice(device)
	if err != nil {
		return nil, err
	}
	info.Name = generateDeviceName(device)
	return info, nil
}

// probeDevice はデバイスを開いてフォーマットと解像度を取得する
func (d *LinuxDiscovery) probeDevice(device string) (*DeviceInfo, error) {
	dev, err := d.probe(device)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = dev.Close()
	}()

	info := &DeviceInfo{
		Device:  device,
		Driver:  DriverV4L2,
		Formats: dev.SupportedFormats(),
	}
	if f, ok := choosePlanar(info.Formats); ok {
		info.Sizes = dev.SupportedSizes(f)
	}
	return info, nil
}

// generateDeviceName はデバイスパスから表示名を生成する
func generateDeviceName(device string) string {
	if realName := getV4L2DeviceName(device); realName != "" {
		return realName
	}

	return fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
}

// getV4L2DeviceName はv4l2-ctlを使って実際のデバイス名を取得する
func getV4L2DeviceName(device string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--info")
	output, err := cmd.Output()
	if err != nil {
		return ""
	}

	return parseCardType(string(output))
}

// parseCardType は v4l2-ctl --info の出力から "Card type" を取り出す
func parseCardType(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Card type") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			if cardType := strings.TrimSpace(parts[1]); cardType != "" {
				return cardType
			}
		}
	}
	return ""
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := videoNumberPattern.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}

	return num
}

// SelectDevice は使用するカメラを選ぶ
//
// preferredが指定されていればそのデバイスを使い、なければ
// スキャン結果を先頭から見て最初に4:2:0プレーナ形式を提供するものを使う。
func SelectDevice(ctx context.Context, d Discovery, preferred string) (*DeviceInfo, error) {
	if preferred != "" {
		info, err := d.GetDeviceInfo(ctx, preferred)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrNoDevice, preferred, err)
		}
		return info, nil
	}

	devices, err := d.ScanDevices(ctx)
	if err != nil {
		return nil, err
	}

	for _, device := range devices {
		info, err := d.GetDeviceInfo(ctx, device)
		if err != nil {
			logging.Debug("デバイス情報の取得に失敗", "device", device, "error", err)
			continue
		}
		if info.Planar() {
			return info, nil
		}
	}

	return nil, ErrNoDevice
}

// SelectResolution は出力解像度を選ぶ
// wantが指定されていればそのまま使い、なければデバイスが最初に列挙した解像度を使う
func SelectResolution(info *DeviceInfo, want Resolution) (Resolution, error) {
	if !want.IsZero() {
		return want, nil
	}
	if len(info.Sizes) == 0 {
		return Resolution{}, fmt.Errorf("%w: %s は解像度を列挙しません", ErrConfigure, info.Device)
	}
	return info.Sizes[0], nil
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	mu          sync.RWMutex
	devices     []string
	deviceInfos map[string]*DeviceInfo
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	m := &MockDiscovery{deviceInfos: make(map[string]*DeviceInfo)}
	for _, device := range devices {
		m.AddDevice(device)
	}
	return m
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.devices...), nil
}

// IsDeviceAvailable はモックデバイスが利用可能かチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.deviceInfos[device]
	return exists
}

// GetDeviceInfo はモックデバイス情報を取得する
func (m *MockDiscovery) GetDeviceInfo(_ context.Context, device string) (*DeviceInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, exists := m.deviceInfos[device]
	if !exists {
		return nil, fmt.Errorf("デバイスが見つかりません: %s", device)
	}

	result := *info
	return &result, nil
}

// AddDevice はYU12 640x480/320x240のデバイスを追加する
func (m *MockDiscovery) AddDevice(device string) {
	m.mu.RLock()
	n := len(m.devices)
	m.mu.RUnlock()

	m.AddDeviceInfo(&DeviceInfo{
		Device:  device,
		Name:    fmt.Sprintf("テストカメラ %d", n+1),
		Driver:  "mock",
		Formats: []PixelFormat{FormatYU12},
		Sizes: []Resolution{
			{Width: 640, Height: 480},
			{Width: 320, Height: 240},
		},
	})
}

// AddDeviceInfo は任意の情報でデバイスを追加する
func (m *MockDiscovery) AddDeviceInfo(info *DeviceInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.deviceInfos[info.Device]; !exists {
		m.devices = append(m.devices, info.Device)
	}
	m.deviceInfos[info.Device] = info
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockDiscovery) RemoveDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.devices {
		if d == device {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			break
		}
	}
	delete(m.deviceInfos, device)
}
