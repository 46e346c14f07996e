package drivecache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"aliyundrive-webdav/aliyundrive"
)

func TestUploadIndexPutAndChildren(t *testing.T) {
	idx := NewUploadIndex()
	e1 := &aliyundrive.Entry{Name: "a.txt", ID: "pending-1"}
	e2 := &aliyundrive.Entry{Name: "b.txt", ID: "pending-2"}

	idx.Put("parent1", "a.txt", e1)
	idx.Put("parent1", "b.txt", e2)
	idx.Put("parent2", "c.txt", &aliyundrive.Entry{Name: "c.txt", ID: "pending-3"})

	children := idx.Children("parent1")
	assert.Len(t, children, 2)

	names := map[string]bool{}
	for _, c := range children {
		names[c.Name] = true
	}
	assert.True(t, names["a.txt"])
	assert.True(t, names["b.txt"])
}

func TestUploadIndexChildrenEmptyForUnknownParent(t *testing.T) {
	idx := NewUploadIndex()
	assert.Empty(t, idx.Children("nobody"))
}

func TestUploadIndexRemove(t *testing.T) {
	idx := NewUploadIndex()
	idx.Put("parent1", "a.txt", &aliyundrive.Entry{Name: "a.txt"})
	assert.Len(t, idx.Children("parent1"), 1)

	idx.Remove("parent1", "a.txt")
	assert.Empty(t, idx.Children("parent1"))
}

func TestUploadIndexDistinctParentsDoNotLeak(t *testing.T) {
	idx := NewUploadIndex()
	idx.Put("parentA", "name", &aliyundrive.Entry{Name: "name", ID: "1"})
	idx.Put("parentB", "name", &aliyundrive.Entry{Name: "name", ID: "2"})

	assert.Len(t, idx.Children("parentA"), 1)
	assert.Len(t, idx.Children("parentB"), 1)
}
