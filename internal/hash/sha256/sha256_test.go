package sha256

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestSumDeterministic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, helloDigest, Sum([]byte("hello world")))
	assert.Equal(t, Sum([]byte("hello world")), Sum([]byte("hello world")))
	assert.NotEqual(t, helloDigest, Sum([]byte("hello world!")))
}

func TestSumFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "react-v4.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))
	got, err := SumFile(path)
	require.NoError(t, err)
	assert.Equal(t, helloDigest, got)

	_, err = SumFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
