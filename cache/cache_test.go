package cache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/wp"
	"github.com/benbjohnson/wp/cache"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestNewDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a"), 0666))

	d0, err := cache.NewDigest([]byte("unroll = 5"), "golift/1", path)
	require.NoError(t, err)

	t.Run("Stable", func(t *testing.T) {
		d, err := cache.NewDigest([]byte("unroll = 5"), "golift/1", path)
		require.NoError(t, err)
		require.Equal(t, d0, d)
	})

	t.Run("Config", func(t *testing.T) {
		d, err := cache.NewDigest([]byte("unroll = 6"), "golift/1", path)
		require.NoError(t, err)
		require.NotEqual(t, d0, d)
	})

	t.Run("Loader", func(t *testing.T) {
		d, err := cache.NewDigest([]byte("unroll = 5"), "golift/2", path)
		require.NoError(t, err)
		require.NotEqual(t, d0, d)
	})

	t.Run("Dir", func(t *testing.T) {
		d, err := cache.NewDigest([]byte("unroll = 5"), "golift/1", dir)
		require.NoError(t, err)
		require.Equal(t, d0, d)

		require.NoError(t, os.WriteFile(path, []byte("package b"), 0666))
		d, err = cache.NewDigest([]byte("unroll = 5"), "golift/1", dir)
		require.NoError(t, err)
		require.NotEqual(t, d0, d)
	})

	// Files of an imported package outside the directory count as input.
	t.Run("Files", func(t *testing.T) {
		dep := filepath.Join(t.TempDir(), "dep.go")
		require.NoError(t, os.WriteFile(dep, []byte("package dep"), 0666))
		d1, err := cache.NewDigest(nil, "golift/1", path, dep)
		require.NoError(t, err)

		require.NoError(t, os.WriteFile(dep, []byte("package dep // changed"), 0666))
		d2, err := cache.NewDigest(nil, "golift/1", path, dep)
		require.NoError(t, err)
		require.NotEqual(t, d1, d2)
	})

	t.Run("ErrNotExist", func(t *testing.T) {
		_, err := cache.NewDigest(nil, "golift/1", filepath.Join(dir, "missing.go"))
		require.True(t, os.IsNotExist(errors.Cause(err)))
	})
}

func TestCache_SaveLoad(t *testing.T) {
	path := t.TempDir()
	c := MustOpen(t, path)

	prog := NewProgram()
	require.NoError(t, c.Save(1, prog))

	// Reopen so the program is decoded from disk.
	require.NoError(t, c.Close())
	c = MustOpen(t, path)
	defer c.Close()

	other, err := c.Load(1)
	require.NoError(t, err)
	require.Equal(t, prog, other)

	missing, err := c.Load(2)
	require.NoError(t, err)
	require.Nil(t, missing)
	require.Equal(t, cache.Stats{Hits: 1, Misses: 1}, c.Stats())
}

// Only address attributes survive a round trip.
func TestCache_Save_StripAttrs(t *testing.T) {
	path := t.TempDir()
	c := MustOpen(t, path)

	prog := NewProgram()
	prog.Subs[0].Blocks[2].Term = &wp.ReturnTerm{Attrs: wp.Attrs{wp.AttrAddress: "f.go:3", "insn": "ret"}}
	require.NoError(t, c.Save(1, prog))
	require.NoError(t, c.Close())

	c = MustOpen(t, path)
	defer c.Close()
	other, err := c.Load(1)
	require.NoError(t, err)
	require.Equal(t, wp.Attrs{wp.AttrAddress: "f.go:3"}, other.Subs[0].Blocks[2].Term.(*wp.ReturnTerm).Attrs)
	require.Equal(t, wp.Attrs{wp.AttrAddress: "f.go:2"}, other.Subs[0].Blocks[0].Stmts[3].(*wp.CallStmt).Attrs)

	// The caller's program is left untouched.
	require.Equal(t, "ret", prog.Subs[0].Blocks[2].Term.(*wp.ReturnTerm).Attrs["insn"])
}

// Ensure a second lookup of the same digest does not rebuild.
func TestCache_GetOrBuild(t *testing.T) {
	c := MustOpen(t, t.TempDir())
	defer c.Close()

	var n int
	build := func() (*wp.Program, error) {
		n++
		return NewProgram(), nil
	}

	prog0, err := c.GetOrBuild(1, build)
	require.NoError(t, err)
	prog1, err := c.GetOrBuild(1, build)
	require.NoError(t, err)

	require.Equal(t, 1, n)
	require.Same(t, prog0, prog1)
	require.Equal(t, 1, c.Stats().Builds)

	t.Run("ErrBuild", func(t *testing.T) {
		_, err := c.GetOrBuild(2, func() (*wp.Program, error) { return nil, errors.New("marker") })
		require.EqualError(t, err, "marker")

		prog, err := c.Load(2)
		require.NoError(t, err)
		require.Nil(t, prog)
	})
}

func TestOpen_ErrConflict(t *testing.T) {
	path := t.TempDir()
	c := MustOpen(t, path)
	defer c.Close()

	_, err := cache.Open(path, 0)
	require.ErrorIs(t, err, cache.ErrConflict)
}

// MustOpen opens a cache at path. Fail on error.
func MustOpen(tb testing.TB, path string) *cache.Cache {
	tb.Helper()
	c, err := cache.Open(path, 0)
	require.NoError(tb, err)
	return c
}

// NewProgram returns a small program touching every IR node type.
func NewProgram() *wp.Program {
	reg := func(name string) *wp.VarExpr { return wp.NewVarExpr(name, 64) }
	return &wp.Program{
		Name:    "test",
		Arch:    wp.ArchGoSSA.Name,
		Symbols: []wp.Symbol{{Name: "g", Addr: 0x10000, Size: 8}},
		Subs: []*wp.Subroutine{{
			Name:  "f",
			Entry: "b0",
			Attrs: wp.Attrs{wp.AttrAddress: "f.go:1"},
			Blocks: []*wp.Block{
				{
					ID: "b0",
					Stmts: []wp.Stmt{
						&wp.AssignStmt{Var: reg("x"), Expr: wp.NewBinaryExpr(wp.ADD, reg("arg0"), wp.NewConstantExpr64(1))},
						&wp.LoadStmt{Dst: wp.NewVarExpr("b", 8), Addr: wp.NewConstantExpr64(0x10000)},
						&wp.StoreStmt{Addr: reg("x"), Value: wp.NewExtractExpr(reg("arg1"), 0, 8)},
						&wp.CallStmt{Callee: "g", Attrs: wp.Attrs{wp.AttrAddress: "f.go:2"}},
					},
					Term: &wp.BranchTerm{Cond: wp.NewBinaryExpr(wp.ULT, reg("x"), reg("arg1")), Then: "b1", Else: "b2"},
				},
				{
					ID:    "b1",
					Stmts: []wp.Stmt{&wp.AssignStmt{Var: reg("ret0"), Expr: wp.NewCastExpr(wp.NewVarExpr("b", 8), 64, true)}},
					Term:  &wp.JumpTerm{Target: "b2"},
				},
				{ID: "b2", Term: &wp.ReturnTerm{}},
			},
		}},
	}
}
