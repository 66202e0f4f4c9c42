//go:build !linux

package wrapfs

import (
	"github.com/spf13/afero"

	"github.com/absfs/wrapfs/lower"
)

func defaultLower() (lower.FS, error) {
	return lower.NewAfero(afero.NewOsFs()), nil
}
