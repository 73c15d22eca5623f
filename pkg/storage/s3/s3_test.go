package s3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri    string
		want   Location
		prefix bool
	}{
		{"s3://logs/2024/client.log", Location{Bucket: "logs", Key: "2024/client.log"}, false},
		{"s3://logs/2024/", Location{Bucket: "logs", Key: "2024/"}, true},
		{"s3://logs", Location{Bucket: "logs"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := ParseURI(tt.uri)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.prefix, got.IsPrefix())
		})
	}

	for _, bad := range []string{"s3://", "file:///tmp/x", "logs/x"} {
		_, err := ParseURI(bad)
		assert.Error(t, err, bad)
	}

	assert.True(t, IsURI("s3://a/b"))
	assert.False(t, IsURI("/tmp/a"))
	assert.Equal(t, "s3://a/b/c", Location{Bucket: "a", Key: "b/c"}.String())
}
