package gcp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/studioflow-backend/pkg/config"
)

func TestClientOptions(t *testing.T) {
	assert.Len(t, ClientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/sa.json"}), 1)
	assert.Len(t, ClientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/sa.json"}), 1)
	assert.Empty(t, ClientOptions(config.GCPConfig{}))
}

func TestResourceName(t *testing.T) {
	assert.Equal(t, "projects/studio/topics/sf-pipeline-tasks", ResourceName("studio", "topics", " sf-pipeline-tasks "))
	assert.Equal(t, "projects/other/subscriptions/s", ResourceName("studio", "subscriptions", "projects/other/subscriptions/s"))
	assert.Equal(t, "projects/studio/subscriptions/projects-x", ResourceName("studio", "subscriptions", "projects-x"))
	assert.Empty(t, ResourceName("studio", "topics", " "))
	assert.Empty(t, ResourceName("", "topics", "t"))
}
