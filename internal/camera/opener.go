package camera

import (
	"fmt"
	"sort"
	"sync"
)

// ドライバー名
const (
	DriverV4L2      = "v4l2"
	DriverSynthetic = "synthetic"
)

// OpenFunc はデバイスパスからDeviceを開く関数の型
type OpenFunc func(path string) (Device, error)

// DeviceOpener はデバイスを開くファクトリー
type DeviceOpener interface {
	Open(path string) (Device, error)
}

// OpenerRegistry はドライバー名ごとにOpenFuncを保持する
type OpenerRegistry struct {
	mu      sync.RWMutex
	openers map[string]OpenFunc
}

// NewOpenerRegistry は標準のドライバーを登録したレジストリを作成する
func NewOpenerRegistry() *OpenerRegistry {
	r := &OpenerRegistry{openers: make(map[string]OpenFunc)}

	r.Register(DriverV4L2, OpenV4L2)
	r.Register(DriverSynthetic, OpenSynthetic)

	return r
}

// Register はドライバーを登録する
func (r *OpenerRegistry) Register(driver string, open OpenFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[driver] = open
}

// Opener は指定したドライバーのDeviceOpenerを返す
func (r *OpenerRegistry) Opener(driver string) (DeviceOpener, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	open, exists := r.openers[driver]
	if !exists {
		return nil, fmt.Errorf("サポートされていないドライバー: %s", driver)
	}
	return open, nil
}

// Drivers は登録済みのドライバー名を返す
func (r *OpenerRegistry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	drivers := make([]string, 0, len(r.openers))
	for d := range r.openers {
		drivers = append(drivers, d)
	}
	sort.Strings(drivers)
	return drivers
}

// Open はOpenFuncをDeviceOpenerとして使えるようにする
func (f OpenFunc) Open(path string) (Device, error) {
	return f(path)
}

// DeviceOpenerFor は固定のDeviceを返すDeviceOpener
// テストや合成デバイスの共有に使う
func DeviceOpenerFor(dev Device) DeviceOpener {
	return OpenFunc(func(string) (Device, error) { return dev, nil })
}
