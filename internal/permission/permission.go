// Package permission はカメラへのアクセス許可を確認する
//
// 許可がない場合はErrPermissionDeniedを返す。呼び出し側は通知を出して
// セッションを開かず、再要求もしない。
package permission

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrPermissionDenied はカメラへのアクセスが許可されなかったことを示す
var ErrPermissionDenied = errors.New("カメラへのアクセスが許可されていません")

// モード名
const (
	ModePortal = "portal"
	ModeDevice = "device"
	ModeGrant  = "grant"
	ModeDeny   = "deny"
)

// Gate はカメラへのアクセス許可を確認する
type Gate interface {
	// Request は許可を確認し、拒否されたらErrPermissionDeniedを返す
	// deviceが空の場合はシステム上のいずれかのカメラについて確認する
	Request(ctx context.Context, device string) error
}

// New はモード名からGateを作成する
func New(mode string) (Gate, error) {
	switch mode {
	case ModePortal:
		return NewPortalGate(), nil
	case ModeDevice:
		return NewDeviceGate(), nil
	case ModeGrant:
		return StaticGate{Allow: true}, nil
	case ModeDeny:
		return StaticGate{Allow: false}, nil
	default:
		return nil, fmt.Errorf("不明な許可モード: %s", mode)
	}
}

// StaticGate は常に同じ結果を返すGate
type StaticGate struct {
	Allow bool
}

// Request はAllowに従って許可または拒否する
func (g StaticGate) Request(_ context.Context, _ string) error {
	if g.Allow {
		return nil
	}
	return ErrPermissionDenied
}

// DeviceGate はデバイスノードを読み書きで開けるかで許可を判定する
type DeviceGate struct {
	pattern string
}

// NewDeviceGate は新しいDeviceGateを作成する
func NewDeviceGate() *DeviceGate {
	return &DeviceGate{pattern: "/dev/video*"}
}

// Request はデバイスノードへのアクセス権を確認する
//
// 存在しないデバイスは許可の問題ではないのでここでは拒否しない。
// deviceが空の場合は一つでも開ければ許可とする。
func (g *DeviceGate) Request(_ context.Context, device string) error {
	if device != "" {
		return checkAccess(device)
	}

	matches, err := filepath.Glob(g.pattern)
	if err != nil {
		return fmt.Errorf("デバイスの走査に失敗: %w", err)
	}

	var lastErr error
	for _, m := range matches {
		err := checkAccess(m)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func checkAccess(device string) error {
	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, device)
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("デバイス %s の確認に失敗: %w", device, err)
	}
	_ = f.Close()
	return nil
}
