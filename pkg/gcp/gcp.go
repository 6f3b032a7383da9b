// Package gcp holds what the Google Cloud clients (Pub/Sub, BigQuery) share:
// credential selection and resource naming.
package gcp

import (
	"fmt"
	"strings"

	"google.golang.org/api/option"

	"github.com/angelmondragon/studioflow-backend/pkg/config"
)

// ClientOptions picks inline JSON credentials over a credentials file. With
// neither set the client falls back to Application Default Credentials.
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
// Fully qualified names pass through untouched; blank input yields "".
func ResourceName(project, collection, id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if strings.HasPrefix(id, "projects/") && strings.Contains(id, "/"+collection+"/") {
		return id
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", project, collection, id)
}
