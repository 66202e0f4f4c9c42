package wrapfs

import (
	"io"
	"io/fs"
	"os"
	"sort"

	"github.com/absfs/wrapfs/lower"
)

// Readdir reads directory entries as FileInfo values. Each entry is
// looked up through the mount so its attributes come from the shared
// Object of the entry.
func (af *absFile) Readdir(count int) ([]os.FileInfo, error) {
	var infos []os.FileInfo
	for {
		ents, err := af.f.Readdir(count)
		if err != nil && err != io.EOF {
			return infos, err
		}
		infos = append(infos, af.stat(ents)...)
		if count <= 0 {
			sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
			return infos, nil
		}
		if len(infos) > 0 {
			return infos, nil
		}
		if err == io.EOF || len(ents) == 0 {
			return nil, io.EOF
		}
	}
}

// stat looks up the listed entries, skipping those removed since the
// listing was read
func (af *absFile) stat(ents []lower.DirEntry) []os.FileInfo {
	dir := af.f.Node()
	infos := make([]os.FileInfo, 0, len(ents))
	for _, e := range ents {
		n, err := af.a.wfs.Lookup(dir, e.Name)
		if err != nil {
			continue
		}
		if n.Negative() {
			n.Put()
			continue
		}
		attr, err := af.a.wfs.Getattr(n)
		n.Put()
		if err != nil {
			continue
		}
		infos = append(infos, &fileInfo{name: e.Name, attr: attr})
	}
	return infos
}

// Readdirnames returns directory entry names
func (af *absFile) Readdirnames(count int) ([]string, error) {
	ents, err := af.f.Readdir(count)
	if err != nil && err != io.EOF {
		return nil, err
	}
	names := make([]string, len(ents))
	for i, e := range ents {
		names[i] = e.Name
	}
	if count > 0 && len(names) == 0 {
		return nil, io.EOF
	}
	if count <= 0 {
		sort.Strings(names)
	}
	return names, nil
}

// ReadDir reads directory entries as fs.DirEntry values
func (af *absFile) ReadDir(count int) ([]fs.DirEntry, error) {
	infos, err := af.Readdir(count)
	if err != nil {
		return nil, err
	}
	entries := make([]fs.DirEntry, len(infos))
	for i, info := range infos {
		entries[i] = fs.FileInfoToDirEntry(info)
	}
	return entries, nil
}
