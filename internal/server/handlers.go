package server

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"monokuro/internal/camera"
	"monokuro/internal/config"
	"monokuro/internal/notice"
	"monokuro/internal/pipeline"
)

// StatusProvider はパイプラインの状態を返す
type StatusProvider interface {
	Status() pipeline.Status
}

// NoticeSource は最近のお知らせを返す
type NoticeSource interface {
	Notices() []notice.Notice
}

// Handler はHTTPエンドポイントの実装
type Handler struct {
	config   *config.Config
	pipeline StatusProvider
	cameras  camera.Manager
	notices  NoticeSource
	stream   *Broadcaster
	started  time.Time
}

// HealthResponse は /health の応答
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse は /api/status の応答
type StatusResponse struct {
	Status  pipeline.Status `json:"pipeline"`
	Stream  StreamStats     `json:"stream"`
	Server  ServerInfo      `json:"server"`
	Notices []notice.Notice `json:"notices"`
	Uptime  string          `json:"uptime"`
	Time    time.Time       `json:"timestamp"`
}

// ServerInfo はサーバーの待ち受け情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// CamerasResponse は /api/cameras の応答
type CamerasResponse struct {
	Cameras []camera.Camera `json:"cameras"`
}

// ErrorResponse はエラー時の応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// GetStatus はパイプラインの状態とカウンタを返す
func (h *Handler) GetStatus(c *gin.Context) {
	resp := StatusResponse{
		Status: h.pipeline.Status(),
		Stream: h.stream.Stats(),
		Server: ServerInfo{
			Host: h.config.Server.Host,
			Port: h.config.Server.Port,
		},
		Notices: []notice.Notice{},
		Uptime:  time.Since(h.started).Truncate(time.Second).String(),
		Time:    time.Now(),
	}
	if h.notices != nil {
		resp.Notices = h.notices.Notices()
	}

	c.JSON(http.StatusOK, resp)
}

// GetCameras は検出済みカメラの一覧を返す
func (h *Handler) GetCameras(c *gin.Context) {
	cameras := []camera.Camera{}
	if h.cameras != nil {
		cameras = append(cameras, h.cameras.GetCameras()...)
	}
	c.JSON(http.StatusOK, CamerasResponse{Cameras: cameras})
}

// GetSnapshot は最新のフレームを1枚のJPEGとして返す
func (h *Handler) GetSnapshot(c *gin.Context) {
	jpg := h.stream.Latest()
	if jpg == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:     "no_frame",
			Message:   "まだフレームがありません",
			Timestamp: time.Now(),
		})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", jpg)
}

// GetStream はMJPEGストリーミングを配信する
func (h *Handler) GetStream(c *gin.Context) {
	frames, unsubscribe := h.stream.Subscribe()
	defer unsubscribe()

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusOK)

	clientGone := c.Request.Context().Done()

	for {
		select {
		case <-clientGone:
			return

		case jpg, ok := <-frames:
			if !ok {
				return
			}
			if err := writePart(writer, jpg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writePart はMJPEGの1パートを書き込む
func writePart(w http.ResponseWriter, jpg []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpg)); err != nil {
		return err
	}
	if _, err := w.Write(jpg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// indexTemplate はプレビュー用の簡単なページ
var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
</head>
<body style="margin:0;background:#000">
    <img src="/stream.mjpeg" alt="{{.Title}}">
</body>
</html>`))

// Root はプレビュー用の簡単なページを返す
func (h *Handler) Root(c *gin.Context) {
	c.HTML(http.StatusOK, "index", gin.H{"Title": h.config.Preview.Title})
}
