package synth

import "errors"

var (
	errPerm     = errors.New("permission denied")
	errNotDir   = errors.New("not a directory")
	errNotOpen  = errors.New("fid not open")
	errReadOnly = errors.New("read-only file")
)
