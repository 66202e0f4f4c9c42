package lower

import (
	"os"
	"strings"
	"syscall"
)

// maxSymlinks bounds symlink expansion during Walk
const maxSymlinks = 40

// Walk resolves an absolute or root-relative name to an entry with a
// reference held. Symbolic links in intermediate components are always
// expanded; the final component is expanded only when follow is set.
func (s *Store) Walk(name string, follow bool) (*Entry, error) {
	cur := s.Root()
	comps := splitPath(name)
	links := 0
	for len(comps) > 0 {
		c := comps[0]
		comps = comps[1:]
		switch c {
		case ".":
			continue
		case "..":
			if p := cur.GetParent(); p != nil {
				cur.Put()
				cur = p
			}
			continue
		}

		next, err := s.Lookup(cur, c)
		if err != nil {
			cur.Put()
			return nil, err
		}
		if next.Inode().Attr().IsSymlink() && (len(comps) > 0 || follow) {
			links++
			if links > maxSymlinks {
				next.Put()
				cur.Put()
				return nil, &os.PathError{Op: "walk", Path: name, Err: syscall.ELOOP}
			}
			target, err := s.fs.Readlink(next.Path())
			next.Put()
			if err != nil {
				cur.Put()
				return nil, err
			}
			if strings.HasPrefix(target, "/") {
				cur.Put()
				cur = s.Root()
			}
			comps = append(splitPath(target), comps...)
			continue
		}
		cur.Put()
		cur = next
	}
	return cur, nil
}

func splitPath(name string) []string {
	var comps []string
	for _, c := range strings.Split(name, "/") {
		if c != "" {
			comps = append(comps, c)
		}
	}
	return comps
}
