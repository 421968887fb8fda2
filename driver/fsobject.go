package driver

import "github.com/arkavault/voltfs"

type extObjectHandle interface {
	voltfs.ObjectHandle
	AbsolutePath() string
}

type tExtObjectHandle struct {
	voltfs.ObjectHandle
	absolutePath string
}

// wrapObjectHandle pairs an ObjectHandle with the absolute path that was
// resolved to reach it, so callers three or four stack frames up (Stat,
// Readlink, error messages) don't need to re-thread the path everywhere.
func wrapObjectHandle(handle voltfs.ObjectHandle, absolutePath string) extObjectHandle {
	return &tExtObjectHandle{
		ObjectHandle: handle,
		absolutePath: absolutePath,
	}
}

func (xh tExtObjectHandle) AbsolutePath() string {
	return xh.absolutePath
}
