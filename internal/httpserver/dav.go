package httpserver

import (
	"context"
	"io/fs"
	"os"

	"golang.org/x/net/webdav"
)

// davFS is a webdav.FileSystem that answers hidden names as missing and
// leaves them out of directory listings.
type davFS struct {
	webdav.FileSystem
}

func (d davFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if hidden(name) {
		return nil, os.ErrNotExist
	}
	f, err := d.FileSystem.OpenFile(ctx, name, flag, perm)
	if err != nil {
		return nil, err
	}
	return davFile{f}, nil
}

func (d davFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	if hidden(name) {
		return nil, os.ErrNotExist
	}
	return d.FileSystem.Stat(ctx, name)
}

type davFile struct {
	webdav.File
}

func (f davFile) Readdir(count int) ([]fs.FileInfo, error) {
	infos, err := f.File.Readdir(count)
	kept := infos[:0]
	for _, fi := range infos {
		if !hidden(fi.Name()) {
			kept = append(kept, fi)
		}
	}
	return kept, err
}
