package core

import (
	"os"
	"sync"
)

// BaseModel carries the behaviour shared by every model regardless of task:
// its identity and the release of whatever resources it was given.
type BaseModel struct {
	nameOrPath string

	releaseOnce sync.Once
	releasers   []func()
}

func NewBaseModel(nameOrPath string) *BaseModel {
	return &BaseModel{nameOrPath: nameOrPath}
}

func (b *BaseModel) NameOrPath() string {
	return b.nameOrPath
}

// ModelDir returns the identifier when it names a local directory.
func (b *BaseModel) ModelDir() (string, bool) {
	if b.nameOrPath == "" {
		return "", false
	}
	info, err := os.Stat(b.nameOrPath)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return b.nameOrPath, true
}

// OnRelease registers cleanup to run when the model is released.
func (b *BaseModel) OnRelease(fn func()) {
	b.releasers = append(b.releasers, fn)
}

// Release runs registered cleanup once, most recent first.
func (b *BaseModel) Release() {
	b.releaseOnce.Do(func() {
		for i := len(b.releasers) - 1; i >= 0; i-- {
			b.releasers[i]()
		}
		b.releasers = nil
	})
}
