package wrapfs

import "github.com/absfs/wrapfs/lower"

func defaultLower() (lower.FS, error) {
	return lower.NewOS("/")
}
