package storage

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	machineID     string
	machineIDOnce sync.Once
)

// MachineID 返回本进程的机器标识（hostname + 随机后缀）
// MachineID returns the identifier stamped on rows written by this process.
// It is generated once per process as "<hostname>-<8 hex chars>".
func MachineID() string {
	machineIDOnce.Do(func() {
		machineID = newMachineID()
	})
	return machineID
}

func newMachineID() string {
	host, err := os.Hostname()
	host = strings.TrimSpace(host)
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
