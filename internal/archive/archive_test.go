package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptyEndpointDisablesArchive(t *testing.T) {
	a, err := New(Config{})
	require.NoError(t, err)
	assert.False(t, a.Enabled())
}

func TestDisabledArchive_ArchiveOutputIsNoOp(t *testing.T) {
	a, err := New(Config{})
	require.NoError(t, err)

	err = a.ArchiveOutput(context.Background(), "job-1", "/tmp/does-not-exist.gcode")
	assert.NoError(t, err, "a disabled archive must never attempt a network call")
}

func TestDisabledArchive_EnsureBucketIsNoOp(t *testing.T) {
	a, err := New(Config{})
	require.NoError(t, err)
	assert.NoError(t, a.EnsureBucket(context.Background()))
}

func TestNilArchive_EnabledIsFalse(t *testing.T) {
	var a *Archive
	assert.False(t, a.Enabled())
}
