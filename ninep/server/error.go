package server

import (
	"context"
	"errors"

	"github.com/peripherialabs/peribus-sub001/ninep"
)

var (
	errNotImplemented = errors.New("operation not implemented")
	errPerm           = errors.New("permission denied")
)

// ErrorFsys supplies default Fsys methods: Attach, Clone, Walk, Open,
// Readdir, ReadAt and Stat return errNotImplemented; WriteAt and Remove
// return errPerm; Wstat, Clunk and Close succeed. It has no Qid method,
// so the embedding type must provide Qid itself. Embed it in an Fsys
// implementation to get defaults for the methods not worth overriding.
type ErrorFsys[F Fid] struct{}

func (ErrorFsys[F]) Attach(ctx context.Context, uname, aname string) (F, error) {
	var zero F
	return zero, errNotImplemented
}

func (ErrorFsys[F]) Clone(ctx context.Context, f F) (F, error) {
	var zero F
	return zero, errNotImplemented
}

func (ErrorFsys[F]) Walk(ctx context.Context, f F, name string) (F, error) {
	var zero F
	return zero, errNotImplemented
}

func (ErrorFsys[F]) Open(ctx context.Context, f F, mode uint8) (F, uint32, error) {
	var zero F
	return zero, 0, errNotImplemented
}

func (ErrorFsys[F]) Readdir(ctx context.Context, f F, dir []ninep.Dir, entryIndex int) (int, error) {
	return 0, errNotImplemented
}

func (ErrorFsys[F]) ReadAt(ctx context.Context, f F, buf []byte, off int64) (int, error) {
	return 0, errNotImplemented
}

func (ErrorFsys[F]) WriteAt(ctx context.Context, f F, buf []byte, off int64) (int, error) {
	return 0, errPerm
}

func (ErrorFsys[F]) Stat(ctx context.Context, f F) (ninep.Dir, error) {
	return ninep.Dir{}, errNotImplemented
}

func (ErrorFsys[F]) Wstat(ctx context.Context, f F, dir ninep.Dir) error {
	return nil
}

func (ErrorFsys[F]) Remove(ctx context.Context, f F) error {
	return errPerm
}

func (ErrorFsys[F]) Clunk(ctx context.Context, f F) error {
	return nil
}

func (ErrorFsys[F]) Close() error {
	return nil
}
