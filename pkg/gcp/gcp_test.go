package gcp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paycore/pkg/config"
)

func TestClientOptions(t *testing.T) {
	require.Len(t, ClientOptions(config.GCPConfig{CredentialsJSON: `{"type":"x"}`, ApplicationCredentials: "/tmp/creds"}), 1)
	require.Len(t, ClientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/creds"}), 1)
	require.Empty(t, ClientOptions(config.GCPConfig{}))
}

func TestResourceName(t *testing.T) {
	cases := []struct {
		project, collection, name, want string
	}{
		{"proj", "topics", "payments", "projects/proj/topics/payments"},
		{"proj", "subscriptions", " analytics ", "projects/proj/subscriptions/analytics"},
		{"proj", "topics", "projects/other/topics/payments", "projects/other/topics/payments"},
		{"proj", "subscriptions", "projects/other/topics/payments", "projects/proj/subscriptions/projects/other/topics/payments"},
		{"", "topics", "payments", ""},
		{"proj", "topics", " ", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ResourceName(tc.project, tc.collection, tc.name), tc.name)
	}
}
