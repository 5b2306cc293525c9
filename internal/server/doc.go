// Package server は、ヘッドレス実行時のHTTPサーバーを管理します。
//
// 責務:
//   - グレースケールのプレビューをMJPEGで配信する表示面 (Broadcaster)
//   - パイプラインの状態、カウンタ、お知らせを返すステータスAPI
//   - 検出済みカメラの一覧
//   - グレースフルシャットダウン
//
// 仕様:
//   - ルーティングはgin
//   - JPEGエンコードはgocv
//   - 遅いクライアントには古いフレームを捨てて最新だけを送る
package server
