package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"monokuro/internal/logging"
)

const (
	portalName = "org.freedesktop.portal.Desktop"
	portalPath = dbus.ObjectPath("/org/freedesktop/portal/desktop")

	cameraInterface  = "org.freedesktop.portal.Camera"
	accessCameraName = cameraInterface + ".AccessCamera"

	requestInterface = "org.freedesktop.portal.Request"
	responseMember   = "Response"

	propertiesGetName = "org.freedesktop.DBus.Properties.Get"
)

// ResponseStatus はRequest.Responseシグナルの応答コード
type ResponseStatus = uint32

const (
	Success   ResponseStatus = 0
	Cancelled ResponseStatus = 1
	Ended     ResponseStatus = 2
)

// ErrUnexpectedResponse はポータルから想定外の応答が返ったことを示す
var ErrUnexpectedResponse = errors.New("ポータルからの想定外の応答")

// PortalGate はxdg-desktop-portalのCameraポータルで許可を求める
// サンドボックス内やデスクトップ環境で使う
type PortalGate struct {
	connect func() (*dbus.Conn, error)
}

// NewPortalGate はセッションバスを使うPortalGateを作成する
func NewPortalGate() *PortalGate {
	return &PortalGate{connect: dbus.SessionBus}
}

// Request はAccessCameraを呼び出し、ユーザーの応答を待つ
func (g *PortalGate) Request(ctx context.Context, _ string) error {
	conn, err := g.connect()
	if err != nil {
		return fmt.Errorf("セッションバスへの接続に失敗: %w", err)
	}

	obj := conn.Object(portalName, portalPath)

	if present, err := isCameraPresent(obj); err != nil {
		logging.Debug("IsCameraPresentの取得に失敗", "error", err)
	} else if !present {
		logging.Warn("ポータルはカメラを検出していません")
	}

	token := handleToken()
	path := requestPath(conn.Names()[0], token)

	// 応答を取りこぼさないよう呼び出し前に購読する
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(requestInterface),
		dbus.WithMatchMember(responseMember),
	); err != nil {
		return fmt.Errorf("シグナルの購読に失敗: %w", err)
	}
	defer func() {
		_ = conn.RemoveMatchSignal(
			dbus.WithMatchObjectPath(path),
			dbus.WithMatchInterface(requestInterface),
			dbus.WithMatchMember(responseMember),
		)
	}()

	signals := make(chan *dbus.Signal, 4)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(token),
	}
	var handle dbus.ObjectPath
	if err := obj.CallWithContext(ctx, accessCameraName, 0, options).Store(&handle); err != nil {
		return fmt.Errorf("AccessCameraの呼び出しに失敗: %w", err)
	}
	if handle != path {
		// 古いポータルは別のパスを返すことがある
		logging.Debug("予期しないリクエストパス", "want", string(path), "got", string(handle))
		path = handle
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return ErrUnexpectedResponse
			}
			if sig.Path != path || sig.Name != requestInterface+"."+responseMember {
				continue
			}
			status, err := parseResponse(sig.Body)
			if err != nil {
				return err
			}
			return interpretResponse(status)
		}
	}
}

func isCameraPresent(obj dbus.BusObject) (bool, error) {
	var v dbus.Variant
	if err := obj.Call(propertiesGetName, 0, cameraInterface, "IsCameraPresent").Store(&v); err != nil {
		return false, err
	}
	present, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("IsCameraPresentの型が不正: %T", v.Value())
	}
	return present, nil
}

// handleToken はオブジェクトパスに使える一意なトークンを返す
func handleToken() string {
	return "monokuro_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// requestPath はポータルが作成するRequestオブジェクトのパスを求める
// 送信者名 ":1.42" は "1_42" になる
func requestPath(sender, token string) dbus.ObjectPath {
	s := strings.TrimPrefix(sender, ":")
	s = strings.ReplaceAll(s, ".", "_")
	return dbus.ObjectPath("/org/freedesktop/portal/desktop/request/" + s + "/" + token)
}

func parseResponse(body []any) (ResponseStatus, error) {
	if len(body) != 2 {
		return Ended, ErrUnexpectedResponse
	}
	status, ok := body[0].(uint32)
	if !ok {
		return Ended, ErrUnexpectedResponse
	}
	return status, nil
}

// interpretResponse は応答コードを許可または拒否に変換する
func interpretResponse(status ResponseStatus) error {
	switch status {
	case Success:
		return nil
	case Cancelled:
		return fmt.Errorf("%w: ユーザーが拒否しました", ErrPermissionDenied)
	default:
		return fmt.Errorf("%w: 応答コード %d", ErrPermissionDenied, status)
	}
}
