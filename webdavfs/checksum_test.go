package webdavfs

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/webdav"

	"aliyundrive-webdav/aliyundrive"
)

func TestChecksumPropertyPresentWhenContentHashKnown(t *testing.T) {
	prop, ok := checksumProperty(&aliyundrive.Entry{ContentHash: "ABCDEF"})
	require.True(t, ok)
	assert.Equal(t, checksumPropName, prop.XMLName)
	assert.Equal(t, "<oc:checksum>sha1:abcdef</oc:checksum>", string(prop.InnerXML))
}

func TestChecksumPropertyAbsentWithoutContentHash(t *testing.T) {
	_, ok := checksumProperty(&aliyundrive.Entry{})
	assert.False(t, ok)

	_, ok = checksumProperty(nil)
	assert.False(t, ok)
}

func TestRegularFileDeadProps(t *testing.T) {
	r := &regularFile{info: fileInfo{&aliyundrive.Entry{ContentHash: "deadbeef"}}}
	props, err := r.DeadProps()
	require.NoError(t, err)
	prop, ok := props[checksumPropName]
	require.True(t, ok)
	assert.Contains(t, string(prop.InnerXML), "sha1:deadbeef")
}

func TestRegularFileDeadPropsEmptyWithoutHash(t *testing.T) {
	r := &regularFile{info: fileInfo{&aliyundrive.Entry{}}}
	props, err := r.DeadProps()
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestRegularFilePatchRejectsEveryProperty(t *testing.T) {
	r := &regularFile{info: fileInfo{&aliyundrive.Entry{}}}
	patches := []webdav.Proppatch{{Props: []webdav.Property{{XMLName: checksumPropName}}}}
	stats, err := r.Patch(patches)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, http.StatusForbidden, stats[0].Status)
}

func TestDirFileDeadPropsEmpty(t *testing.T) {
	d := &dirFile{entry: &aliyundrive.Entry{}}
	props, err := d.DeadProps()
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestChecksumContextRoundTrip(t *testing.T) {
	ctx := WithChecksum(context.Background(), "sha1:abc123")
	assert.Equal(t, "sha1:abc123", ChecksumFromContext(ctx))
	assert.Equal(t, "", ChecksumFromContext(context.Background()))
}
