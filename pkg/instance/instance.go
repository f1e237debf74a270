// Package instance names the running process for logs and lease tokens.
package instance

import (
	"os"

	"github.com/angelmondragon/solverpay-backend/pkg/env"
)

const fallbackID = "worker-0"

// GetID prefers WORKER_ID, then the host name.
func GetID() string {
	id := env.Get("WORKER_ID", "")
	if id == "" {
		id, _ = os.Hostname()
	}
	if id == "" {
		return fallbackID
	}
	return id
}
