// Package notice はユーザーに見えるお知らせ (トースト相当) を扱う
package notice

import (
	"sync"
	"time"

	"monokuro/internal/logging"
)

// ユーザーに表示する定型メッセージ
const (
	MessagePermissionRequired = "Camera permission is required"
	MessageConfigureFailed    = "Failed to configure camera."
	MessageOpenCVUnavailable  = "Unable to load OpenCV!"
)

// Duration はお知らせの表示時間
type Duration int

const (
	Short Duration = iota
	Long
)

// DurationOf は定型メッセージの表示時間を返す
// 許可のお知らせだけが長く、それ以外は短い
func DurationOf(message string) Duration {
	if message == MessagePermissionRequired {
		return Long
	}
	return Short
}

func (d Duration) String() string {
	if d == Long {
		return "long"
	}
	return "short"
}

// Notice は一件のお知らせ
type Notice struct {
	Message  string    `json:"message"`
	Duration Duration  `json:"-"`
	At       time.Time `json:"at"`
}

// Notifier はユーザーにお知らせを表示する
type Notifier interface {
	Notify(message string, d Duration)
}

// Log はお知らせをログにだけ出すNotifier
type Log struct{}

// Notify はお知らせをwarnレベルで出力する
func (Log) Notify(message string, d Duration) {
	logging.Warn("お知らせ", "message", message, "duration", d.String())
}

// Recorder は受け取ったお知らせを最大limit件まで保持するNotifier
// ステータスAPIとテストで使う
type Recorder struct {
	mu      sync.RWMutex
	limit   int
	notices []Notice
	next    Notifier
}

// NewRecorder は新しいRecorderを作成する
// nextがnilでなければ受け取ったお知らせをそのまま転送する
func NewRecorder(limit int, next Notifier) *Recorder {
	if limit < 1 {
		limit = 1
	}
	return &Recorder{limit: limit, next: next}
}

// Notify はお知らせを記録する
func (r *Recorder) Notify(message string, d Duration) {
	r.mu.Lock()
	r.notices = append(r.notices, Notice{Message: message, Duration: d, At: time.Now()})
	if len(r.notices) > r.limit {
		r.notices = r.notices[len(r.notices)-r.limit:]
	}
	r.mu.Unlock()

	if r.next != nil {
		r.next.Notify(message, d)
	}
}

// Notices は記録済みのお知らせを古い順に返す
func (r *Recorder) Notices() []Notice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Messages は記録済みのメッセージ本文だけを返す
func (r *Recorder) Messages() []string {
	notices := r.Notices()
	out := make([]string, 0, len(notices))
	for _, n := range notices {
		out = append(out, n.Message)
	}
	return out
}
