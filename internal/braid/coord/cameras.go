package coord

import (
	"sync"

	"github.com/braid-data/braid/internal/braid"
)

// CameraManager assigns each connected camera the small stable number
// used in archive rows and reports how many cameras are connected.
// Numbers are handed out in connection order and never reassigned
// within a run.
type CameraManager struct {
	mu    sync.Mutex
	nums  map[string]braid.CamNum
	order []string
}

func NewCameraManager() *CameraManager {
	return &CameraManager{nums: make(map[string]braid.CamNum)}
}

// Register returns the camera's number, assigning the next free one on
// first sight.
func (m *CameraManager) Register(name string) braid.CamNum {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nums[name]; ok {
		return n
	}
	n := braid.CamNum(braid.SafeU8(len(m.order)))
	m.nums[name] = n
	m.order = append(m.order, name)
	return n
}

// CamNum looks up a previously registered camera.
func (m *CameraManager) CamNum(name string) (braid.CamNum, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nums[name]
	return n, ok
}

// NumConnected reports how many cameras have registered.
func (m *CameraManager) NumConnected() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// InfoRows returns the camera number table persisted as cam_info.
func (m *CameraManager) InfoRows() []braid.CamInfoRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]braid.CamInfoRow, len(m.order))
	for i, name := range m.order {
		rows[i] = braid.CamInfoRow{CamNum: m.nums[name], CamID: name}
	}
	return rows
}
