package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPathEnv は設定ファイルのパスを指定する環境変数
const ConfigPathEnv = "MONOKURO_CONFIG"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Camera     CameraConfig     `yaml:"camera"`
	Capture    CaptureConfig    `yaml:"capture"`
	Permission PermissionConfig `yaml:"permission"`
	Preview    PreviewConfig    `yaml:"preview"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト

	JPEGQuality int `yaml:"jpeg_quality"` // MJPEG配信時のJPEG品質 (1-100)
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Driver string `yaml:"driver"` // "v4l2" または "synthetic"
	Device string `yaml:"device"` // デバイスパス。空なら自動選択

	// 取得解像度。0なら最初にサポートされているサイズを使う
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// CaptureConfig はフレーム取得の設定
type CaptureConfig struct {
	BufferCount  int           `yaml:"buffer_count"`  // 同時に処理中にできるフレーム数
	FrameTimeout time.Duration `yaml:"frame_timeout"` // 1フレーム待ちの上限 (1秒以上、秒単位)
	AcquireWait  time.Duration `yaml:"acquire_wait"`  // バッファ枯渇時に待つ時間
}

// PermissionConfig はカメラアクセス許可の設定
type PermissionConfig struct {
	Mode string `yaml:"mode"` // "portal", "device", "grant", "deny"
}

// PreviewConfig はプレビューウィンドウの設定
type PreviewConfig struct {
	Title string `yaml:"title"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
			JPEGQuality:  80,
		},
		Camera: CameraConfig{
			Driver: "v4l2",
		},
		Capture: CaptureConfig{
			BufferCount:  2,
			FrameTimeout: time.Second,
			AcquireWait:  5 * time.Millisecond,
		},
		Permission: PermissionConfig{
			Mode: "device",
		},
		Preview: PreviewConfig{
			Title: "monokuro",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load は設定を読み込む
// デフォルト値 → 設定ファイル (MONOKURO_CONFIG) → 環境変数 の順で上書きする
func Load() (*Config, error) {
	return LoadFile(os.Getenv(ConfigPathEnv))
}

// LoadFile は指定されたYAMLファイルから設定を読み込む
// pathが空ならファイルは読まない
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Camera.Device = getEnvOrDefault("CAMERA_DEVICE", c.Camera.Device)
	c.Camera.Driver = getEnvOrDefault("CAMERA_DRIVER", c.Camera.Driver)
	c.Permission.Mode = getEnvOrDefault("CAMERA_PERMISSION", c.Permission.Mode)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvOrDefault("LOG_FORMAT", c.Log.Format)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	var errs []error

	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なポート番号: %d", c.Server.Port))
	}
	if c.Server.JPEGQuality < 1 || c.Server.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("無効なJPEG品質: %d", c.Server.JPEGQuality))
	}

	// カメラ設定の検証
	switch c.Camera.Driver {
	case "v4l2", "synthetic":
	default:
		errs = append(errs, fmt.Errorf("未対応のカメラドライバー: %q", c.Camera.Driver))
	}
	if (c.Camera.Width == 0) != (c.Camera.Height == 0) {
		errs = append(errs, fmt.Errorf("幅と高さは両方指定するか両方省略する必要があります: %dx%d", c.Camera.Width, c.Camera.Height))
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 || c.Camera.Width%2 != 0 || c.Camera.Height%2 != 0 {
		// 4:2:0 は縦横とも2の倍数が必要
		errs = append(errs, fmt.Errorf("無効な解像度: %dx%d", c.Camera.Width, c.Camera.Height))
	}

	// キャプチャ設定の検証
	if c.Capture.BufferCount < 1 {
		errs = append(errs, fmt.Errorf("無効なバッファ数: %d", c.Capture.BufferCount))
	}
	// V4L2の待機は秒単位なので1秒未満は指定できない
	if c.Capture.FrameTimeout < time.Second {
		errs = append(errs, fmt.Errorf("無効なフレームタイムアウト: %s", c.Capture.FrameTimeout))
	}
	if c.Capture.AcquireWait < 0 {
		errs = append(errs, fmt.Errorf("無効なバッファ待ち時間: %s", c.Capture.AcquireWait))
	}

	switch c.Permission.Mode {
	case "portal", "device", "grant", "deny":
	default:
		errs = append(errs, fmt.Errorf("未対応の許可モード: %q", c.Permission.Mode))
	}

	return errors.Join(errs...)
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
