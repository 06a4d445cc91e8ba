package instance

import (
	"os"

	"github.com/angelmondragon/paycore/pkg/env"
)

// EnvInstanceID overrides the detected instance identifier.
const EnvInstanceID = "PAYCORE_INSTANCE_ID"

// GetID returns the process instance identifier: the env override, then the
// hostname, then a fixed default.
func GetID() string {
	if id, ok := env.First(EnvInstanceID, "HOSTNAME"); ok {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
