package server

import (
	"bufio"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"monokuro/internal/camera"
	"monokuro/internal/config"
	"monokuro/internal/notice"
	"monokuro/internal/pipeline"
)

type fakeStatus struct{}

func (fakeStatus) Status() pipeline.Status {
	return pipeline.Status{
		State:    pipeline.StateStreaming,
		Counters: pipeline.Counters{FramesIn: 3, Converted: 3, Presented: 3},
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	return cfg
}

func newTestServer(t *testing.T) (*Server, *Broadcaster) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rec := notice.NewRecorder(5, nil)
	rec.Notify(notice.MessageConfigureFailed, notice.Short)

	stream := NewBroadcaster(80)
	srv := New(testConfig(), Deps{
		Pipeline: fakeStatus{},
		Cameras:  camera.NewDefaultCameraManager(camera.NewMockDiscovery(nil)),
		Notices:  rec,
		Stream:   stream,
	})
	return srv, stream
}

func postFrame(t *testing.T, b *Broadcaster, v uint8) {
	t.Helper()
	c, err := b.Lock(16, 8)
	if err != nil {
		t.Fatalf("Lockでエラーが発生しました: %v", err)
	}
	img := c.(*image.RGBA)
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	if err := b.UnlockAndPost(c); err != nil {
		t.Fatalf("UnlockAndPostでエラーが発生しました: %v", err)
	}
}

// TestServerEndpoints は各エンドポイントの応答をテストする
func TestServerEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	testCases := []struct {
		name           string
		endpoint       string
		expectedStatus int
	}{
		{"ルートエンドポイント", "/", http.StatusOK},
		{"ヘルスチェックエンドポイント", "/health", http.StatusOK},
		{"ステータスエンドポイント", "/api/status", http.StatusOK},
		{"カメラ一覧エンドポイント", "/api/cameras", http.StatusOK},
		{"フレームがない時のスナップショット", "/api/snapshot.jpg", http.StatusServiceUnavailable},
		{"存在しないパス", "/nope", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.endpoint, nil)
			srv.Handler().ServeHTTP(w, req)

			if w.Code != tc.expectedStatus {
				t.Errorf("予期しないステータスコード: got %d, want %d", w.Code, tc.expectedStatus)
			}
		})
	}
}

// TestStatusResponse はステータスAPIの内容をテストする
func TestStatusResponse(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var resp struct {
		Pipeline pipeline.Status `json:"pipeline"`
		Notices  []notice.Notice `json:"notices"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("JSONのデコードに失敗しました: %v", err)
	}

	if resp.Pipeline.State != pipeline.StateStreaming {
		t.Errorf("予期しない状態: %s", resp.Pipeline.State)
	}
	if resp.Pipeline.Counters.FramesIn != 3 {
		t.Errorf("予期しないframes_in: %d", resp.Pipeline.Counters.FramesIn)
	}
	if len(resp.Notices) != 1 || resp.Notices[0].Message != notice.MessageConfigureFailed {
		t.Errorf("予期しないお知らせ: %+v", resp.Notices)
	}
}

// TestSnapshot は最新フレームをJPEGで返すことをテストする
func TestSnapshot(t *testing.T) {
	srv, stream := newTestServer(t)
	postFrame(t, stream, 200)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/snapshot.jpg", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("予期しないステータスコード: %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("予期しないContent-Type: %s", ct)
	}
	body := w.Body.Bytes()
	if len(body) < 2 || body[0] != 0xFF || body[1] != 0xD8 {
		t.Error("JPEGのSOIマーカーがありません")
	}
}

// TestBroadcaster_DropsOldest は遅い購読者に最新フレームだけが残ることをテストする
func TestBroadcaster_DropsOldest(t *testing.T) {
	b := NewBroadcaster(80)
	frames, unsubscribe := b.Subscribe()
	defer unsubscribe()

	postFrame(t, b, 10)
	postFrame(t, b, 20)
	postFrame(t, b, 30)

	got := <-frames
	if string(got) != string(b.Latest()) {
		t.Error("最新のフレームではありません")
	}
	select {
	case <-frames:
		t.Error("キューに古いフレームが残っています")
	default:
	}

	stats := b.Stats()
	if stats.Encoded != 3 || stats.Dropped != 2 || stats.Subscribers != 1 {
		t.Errorf("予期しないカウンタ: %+v", stats)
	}

	unsubscribe()
	if b.Subscribers() != 0 {
		t.Error("購読解除されていません")
	}
}

// TestStream はMJPEGのパートが届くことをテストする
func TestStream(t *testing.T) {
	srv, stream := newTestServer(t)
	postFrame(t, stream, 128)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream.mjpeg", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("予期しないContent-Type: %s", ct)
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("読み込みに失敗しました: %v", err)
	}
	if strings.TrimSpace(line) != "--frame" {
		t.Errorf("予期しない境界: %q", line)
	}
	line, _ = r.ReadString('\n')
	if strings.TrimSpace(line) != "Content-Type: image/jpeg" {
		t.Errorf("予期しないパートヘッダー: %q", line)
	}
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	srv, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("リスナーの作成に失敗しました: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, ln)
	}()

	// 起動を確認
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("サーバーが起動しませんでした: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// ストリームを開いたままでも停止できる
	streamCtx, streamCancel := context.WithCancel(context.Background())
	defer streamCancel()
	req, _ := http.NewRequestWithContext(streamCtx, http.MethodGet, "http://"+ln.Addr().String()+"/stream.mjpeg", nil)
	go func() {
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
		}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("サーバーの起動/停止でエラーが発生しました: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

// TestRootEscapesTitle はタイトルがHTMLとしてエスケープされることをテストする
func TestRootEscapesTitle(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	cfg.Preview.Title = `<script>alert("x")</script>`
	srv := New(cfg, Deps{Pipeline: fakeStatus{}, Notices: notice.NewRecorder(1, nil)})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("予期しないステータスコード: %d", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "<script>") {
		t.Errorf("タイトルがエスケープされていません: %s", body)
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Errorf("エスケープされたタイトルがありません: %s", body)
	}
}
