package application

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// WorkerID returns a stable identity for claim ownership. An explicit name
// wins; otherwise the hostname is used since the PID is always 1 in
// containers. A random suffix is the last resort so two anonymous workers
// never share an identity.
func WorkerID(configured, role string) string {
	if name := strings.TrimSpace(configured); name != "" {
		return name
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return fmt.Sprintf("%s-%s", role, hostname)
	}
	return fmt.Sprintf("%s-%s", role, uuid.NewString())
}
