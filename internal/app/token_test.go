package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCancelToken_ParentCascadesToChildren(t *testing.T) {
	root := NewCancelToken()
	child := root.Child()
	grandchild := child.Child()

	root.Cancel()

	assert.True(t, child.IsCancelled())
	assert.True(t, grandchild.IsCancelled())
	<-grandchild.Done()
}

func TestCancelToken_ChildDoesNotCancelParent(t *testing.T) {
	root := NewCancelToken()
	defer root.Cancel()
	child := root.Child()
	sibling := root.Child()

	child.Cancel()

	assert.True(t, child.IsCancelled())
	assert.False(t, root.IsCancelled())
	assert.False(t, sibling.IsCancelled())
	assert.NoError(t, root.Context().Err())
}

func TestCancelToken_CancelIsIdempotent(t *testing.T) {
	root := NewCancelToken()
	root.Cancel()
	root.Cancel()
	assert.True(t, root.IsCancelled())
}
