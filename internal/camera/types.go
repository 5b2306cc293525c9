package camera

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfigure はキャプチャセッションの構成に失敗したことを示す
	ErrConfigure = errors.New("カメラの構成に失敗")

	// ErrUnsupportedFormat はデバイスが4:2:0プレーナ形式を提供しないことを示す
	ErrUnsupportedFormat = errors.New("サポートされていないピクセルフォーマット")

	// ErrFrameTimeout はフレーム待ちがタイムアウトしたことを示す
	ErrFrameTimeout = errors.New("フレーム待ちがタイムアウト")

	// ErrNoDevice は利用できるカメラがないことを示す
	ErrNoDevice = errors.New("利用可能なカメラがありません")
)

// Status はカメラの動作状態を表す
type Status string

const (
	StatusInactive Status = "inactive" // カメラは停止中
	StatusActive   Status = "active"   // カメラは動作中
	StatusError    Status = "error"    // カメラでエラーが発生
)

// Camera は検出済みカメラの情報
type Camera struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Device   string       `json:"device"`
	Formats  []string     `json:"formats"`
	Sizes    []Resolution `json:"sizes"`
	Status   Status       `json:"status"`
	LastSeen time.Time    `json:"last_seen"`
}

// Resolution はカメラの解像度を表す
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero は解像度が未指定かどうか
func (r Resolution) IsZero() bool {
	return r.Width == 0 && r.Height == 0
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device  string        // デバイスパス
	Name    string        // デバイス名
	Driver  string        // ドライバー名
	Formats []PixelFormat // サポートされるフォーマット
	Sizes   []Resolution  // 4:2:0プレーナ形式でサポートされる解像度 (デバイスの列挙順)
}

// Planar はデバイスが4:2:0プレーナ形式を提供するか
func (i *DeviceInfo) Planar() bool {
	_, ok := choosePlanar(i.Formats)
	return ok
}

// Manager は検出済みカメラの一覧を管理する
type Manager interface {
	// Start は初期スキャンとバックグラウンドスキャンを開始する
	Start(ctx context.Context) error

	// Stop はバックグラウンドスキャンを停止する
	Stop(ctx context.Context) error

	// GetCameras は現在管理されているカメラ一覧を取得する
	GetCameras() []Camera

	// GetCamera は指定されたIDのカメラを取得する
	GetCamera(id string) (*Camera, bool)

	// SetStatus はデバイスパスで指定したカメラの状態を更新する
	SetStatus(device string, status Status)

	// DiscoverCameras はシステム内のカメラデバイスを再検出する
	DiscoverCameras(ctx context.Context) ([]string, error)
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// SessionState はキャプチャセッションの状態
type SessionState string

const (
	StateIdle        SessionState = "idle"
	StateOpening     SessionState = "opening"
	StateConfiguring SessionState = "configuring"
	StateStreaming   SessionState = "streaming"
	StateFailed      SessionState = "failed"
	StateClosed      SessionState = "closed"
)

// CaptureStats はキャプチャループのカウンタ
type CaptureStats struct {
	Captured uint64 `json:"captured"`
	Skipped  uint64 `json:"skipped"`
	Errors   uint64 `json:"errors"`
}
