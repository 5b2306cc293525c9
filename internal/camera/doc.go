// Package camera V4L2カメラの検出とキャプチャセッションを担う
//
// # 責務
// - カメラデバイスの検出と一覧管理
// - 使用するカメラと出力解像度の選択
// - 4:2:0プレーナ形式でのキャプチャセッションの構成と繰り返しキャプチャ
// - 取得バッファ (2枚) の貸し出しと返却
//
// # 仕様
//   - Discovery: /dev/video* を走査し、v4l2-ctl で実名、webcam で
//     フォーマットと解像度を取得する
//   - Manager: 検出したカメラにIDを割り振り、定期的に再スキャンする
//   - SessionManager: デバイスを開いてYU12 (なければYV12) で構成し、
//     フレームをチャンネルに流す。構成に失敗したら通知してfailedになり、
//     再試行はしない。読み取りエラーは切断とみなしてデバイスを閉じる
//   - バッファが枯渇している間は短く待ったあと最新フレームを読み捨てる
//
// # 前提要件
//   - v4l-utils: カメラ名の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
