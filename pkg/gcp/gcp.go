// Package gcp holds the pieces shared by the Pub/Sub and BigQuery clients.
package gcp

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/paycore/pkg/config"
	"google.golang.org/api/option"
)

// ClientOptions picks credentials: inline JSON first, then a key file. With
// neither set the SDK falls back to application default credentials.
func ClientOptions(cfg config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))}
	case strings.TrimSpace(cfg.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(strings.TrimSpace(cfg.ApplicationCredentials))}
	}
	return nil
}

// ResourceName expands a short id into projects/<project>/<collection>/<id>.
// Names that are already fully qualified pass through. It returns "" when
// either part is blank.
func ResourceName(project, collection, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+collection+"/") {
		return name
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", project, collection, name)
}
