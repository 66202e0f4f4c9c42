package lower

import (
	"errors"
	"os"
	"syscall"
)

// The namespace operations below expect the caller to hold the lock of
// every directory they change, taken with LockParent or LockRename.

// Create makes a regular file for the negative entry e in dir
func (s *Store) Create(dir, e *Entry, perm os.FileMode) error {
	return s.instantiate(dir, e, "create", func(name string) error {
		return s.fs.Create(name, perm)
	})
}

// Mkdir makes a directory for the negative entry e in dir
func (s *Store) Mkdir(dir, e *Entry, perm os.FileMode) error {
	return s.instantiate(dir, e, "mkdir", func(name string) error {
		return s.fs.Mkdir(name, perm)
	})
}

// Mknod makes a special file for the negative entry e in dir
func (s *Store) Mknod(dir, e *Entry, mode os.FileMode, dev uint64) error {
	return s.instantiate(dir, e, "mknod", func(name string) error {
		return s.fs.Mknod(name, mode, dev)
	})
}

// Symlink makes a symbolic link to target for the negative entry e
func (s *Store) Symlink(dir, e *Entry, target string) error {
	return s.instantiate(dir, e, "symlink", func(name string) error {
		return s.fs.Symlink(target, name)
	})
}

// Link makes the negative entry e in dir a new name for old
func (s *Store) Link(old, dir, e *Entry) error {
	oldName := old.Path()
	err := s.instantiate(dir, e, "link", func(name string) error {
		return s.fs.Link(oldName, name)
	})
	if err != nil {
		return err
	}
	s.refresh(old)
	return nil
}

func (s *Store) instantiate(dir, e *Entry, op string, mk func(name string) error) error {
	s.mu.Lock()
	name := e.pathLocked()
	positive := e.inode != nil
	s.mu.Unlock()
	if positive {
		return &os.PathError{Op: op, Path: name, Err: syscall.EEXIST}
	}

	if err := mk(name); err != nil {
		return err
	}
	attr, err := s.fs.Lstat(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	e.inode = s.igetLocked(attr)
	s.mu.Unlock()
	s.refresh(dir)
	return nil
}

// Unlink removes the name e from dir. When the backend answers EBUSY
// because it renamed the busy file away, the entry is flagged with
// RenamedAway, unhashed, and the EBUSY error is still returned.
func (s *Store) Unlink(dir, e *Entry) error {
	s.mu.Lock()
	name := e.pathLocked()
	inode := e.inode
	s.mu.Unlock()
	if inode == nil {
		return &os.PathError{Op: "unlink", Path: name, Err: syscall.ENOENT}
	}

	if err := s.fs.Unlink(name); err != nil {
		if !errors.Is(err, syscall.EBUSY) {
			return err
		}
		dd, ok := s.fs.(DeferredDeleter)
		if !ok || !dd.RenamedAway(name) {
			return err
		}
		s.mu.Lock()
		e.renamedAway = true
		s.dropLocked(e)
		s.mu.Unlock()
		inode.dropNlink()
		s.refresh(dir)
		return err
	}

	inode.dropNlink()
	s.mu.Lock()
	s.dropLocked(e)
	s.mu.Unlock()
	s.refresh(dir)
	return nil
}

// Rmdir removes the empty directory e from dir
func (s *Store) Rmdir(dir, e *Entry) error {
	s.mu.Lock()
	name := e.pathLocked()
	inode := e.inode
	s.mu.Unlock()
	if inode == nil {
		return &os.PathError{Op: "rmdir", Path: name, Err: syscall.ENOENT}
	}

	if err := s.fs.Rmdir(name); err != nil {
		return err
	}
	inode.clearNlink()
	s.mu.Lock()
	s.dropLocked(e)
	s.mu.Unlock()
	s.refresh(dir)
	return nil
}

// Rename moves old in oldDir to the name of new in newDir. Whatever new
// named is unhashed and its link count adjusted.
func (s *Store) Rename(oldDir, old, newDir, new *Entry) error {
	s.mu.Lock()
	oldName := old.pathLocked()
	newName := new.pathLocked()
	target := new.inode
	src := old.inode
	s.mu.Unlock()

	if err := s.fs.Rename(oldName, newName); err != nil {
		return err
	}

	if target != nil && target != src {
		if target.Attr().IsDir() {
			target.clearNlink()
		} else {
			target.dropNlink()
		}
	}
	s.mu.Lock()
	s.moveLocked(old, newDir, new.name)
	s.mu.Unlock()

	s.refresh(oldDir)
	if newDir != oldDir {
		s.refresh(newDir)
	}
	s.refresh(old)
	return nil
}

// refresh rereads the attributes of a hashed positive entry
func (s *Store) refresh(e *Entry) {
	s.mu.Lock()
	name := e.pathLocked()
	inode := e.inode
	hashed := e.hashed
	s.mu.Unlock()
	if inode == nil || !hashed {
		return
	}
	if attr, err := s.fs.Lstat(name); err == nil && attr.Ident == inode.ident {
		inode.setAttr(attr)
	}
}

// Getattr returns fresh attributes for e. An unhashed entry reports the
// last attributes seen, since its name no longer leads to the object.
func (s *Store) Getattr(e *Entry) (Attr, error) {
	s.mu.Lock()
	name := e.pathLocked()
	inode := e.inode
	hashed := e.hashed
	s.mu.Unlock()

	if inode == nil {
		return Attr{}, &os.PathError{Op: "getattr", Path: name, Err: syscall.ENOENT}
	}
	if !hashed {
		return inode.Attr(), nil
	}
	attr, err := s.fs.Lstat(name)
	if err != nil {
		return Attr{}, err
	}
	if attr.Ident != inode.ident {
		return Attr{}, &os.PathError{Op: "getattr", Path: name, Err: syscall.ESTALE}
	}
	inode.setAttr(attr)
	return attr, nil
}

// Setattr changes attributes of e under its inode lock and returns the
// resulting attributes.
func (s *Store) Setattr(e *Entry, sa SetAttr) (Attr, error) {
	s.mu.Lock()
	name := e.pathLocked()
	inode := e.inode
	s.mu.Unlock()
	if inode == nil {
		return Attr{}, &os.PathError{Op: "setattr", Path: name, Err: syscall.ENOENT}
	}

	inode.mu.Lock()
	if sa.KillSuid {
		sa.Mode = nil
		if cur := inode.Attr().Mode; cur&(os.ModeSetuid|os.ModeSetgid) != 0 {
			m := cur &^ (os.ModeSetuid | os.ModeSetgid)
			sa.Mode = &m
		}
	}
	err := s.fs.Setattr(name, sa)
	inode.mu.Unlock()
	if err != nil {
		return Attr{}, err
	}
	return s.Getattr(e)
}

// Readlink returns the target of the symbolic link e
func (s *Store) Readlink(e *Entry) (string, error) {
	s.mu.Lock()
	name := e.pathLocked()
	inode := e.inode
	s.mu.Unlock()
	if inode == nil {
		return "", &os.PathError{Op: "readlink", Path: name, Err: syscall.ENOENT}
	}
	target, err := s.fs.Readlink(name)
	if err != nil {
		return "", err
	}
	s.refresh(e)
	return target, nil
}

// Open opens the object e names
func (s *Store) Open(e *Entry, flag int) (*Handle, error) {
	s.mu.Lock()
	name := e.pathLocked()
	inode := e.inode
	hashed := e.hashed
	s.mu.Unlock()
	if inode == nil || !hashed {
		return nil, &os.PathError{Op: "open", Path: name, Err: syscall.ENOENT}
	}
	f, err := s.fs.Open(name, flag)
	if err != nil {
		return nil, err
	}
	return &Handle{file: f, inode: inode.Get()}, nil
}
