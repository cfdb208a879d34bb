package blob

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitURI(t *testing.T) {
	bucket, key, err := SplitURI("s3://my-bucket/path/to/obj.png")
	require.NoError(t, err)
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "path/to/obj.png", key)
}

func TestSplitURI_Errors(t *testing.T) {
	for _, uri := range []string{
		"https://my-bucket/path",
		"s3://",
		"s3://bucket-only",
		"s3:///no-bucket",
		"",
	} {
		_, _, err := SplitURI(uri)
		require.Error(t, err, "uri %q should be rejected", uri)
	}
}
