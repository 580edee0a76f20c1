package report_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/wp"
	"github.com/benbjohnson/wp/report"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNew(t *testing.T) {
	env := MustNewEnv(t)

	t.Run("Refuted", func(t *testing.T) {
		r := report.New("f", NewRefutedResult(), report.Env{Name: report.SideModified, Env: env})
		require.Equal(t, &report.Report{
			Function:     "f",
			Verdict:      "SAT",
			Exact:        true,
			RefutedGoals: []string{"ret0 equal at exit"},
			Sides: []report.Side{{
				Name: report.SideModified,
				Registers: []report.Register{
					{Name: "arg0", Value: 0x5},
					{Name: "arg1", Value: 0x7},
				},
				Memory: []report.Byte{{Addr: 0x10, Value: 0xAB}},
			}},
		}, r)
		require.NotNil(t, r.Side(report.SideModified))
		require.Nil(t, r.Side(report.SideOriginal))
	})

	t.Run("Proved", func(t *testing.T) {
		r := report.New("f", &wp.Result{Verdict: wp.Proved, Exact: false}, report.Env{Name: report.SideModified, Env: env})
		require.Equal(t, &report.Report{Function: "f", Verdict: "UNSAT"}, r)
	})
}

func TestWriteYAML(t *testing.T) {
	r := report.New("f", NewRefutedResult(), report.Env{Name: report.SideModified, Env: MustNewEnv(t)})

	var buf bytes.Buffer
	require.NoError(t, report.WriteYAML(&buf, r))
	require.Contains(t, buf.String(), "verdict: SAT\n")
	require.Contains(t, buf.String(), `"0xab"`)

	var other report.Report
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &other))
	require.Equal(t, r, &other)

	t.Run("ErrInvalidHex", func(t *testing.T) {
		var v report.Hex
		require.EqualError(t, yaml.Unmarshal([]byte(`"0xzz"`), &v),
			`report: invalid hex value "0xzz": strconv.ParseUint: parsing "zz": invalid syntax`)
	})
}

func TestWriteGDB(t *testing.T) {
	r := report.New("f", NewRefutedResult(), report.Env{Name: report.SideModified, Env: MustNewEnv(t)})

	var buf bytes.Buffer
	require.NoError(t, report.WriteGDB(&buf, "f", r.Side(report.SideModified)))
	require.Equal(t, "# counterexample for f (modified)\n"+
		"break f\n"+
		"run\n"+
		"set $arg0 = 0x5\n"+
		"set $arg1 = 0x7\n"+
		"set {unsigned char}0x10 = 0xab\n", buf.String())
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cex.gdb")
	require.NoError(t, report.WriteFile(path, func(w io.Writer) error {
		return report.WriteGDB(w, "f", &report.Side{})
	}))

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "# counterexample for f\nbreak f\nrun\n", string(buf))
}

// MustNewEnv returns an environment for an empty go-ssa program.
func MustNewEnv(tb testing.TB) *wp.Env {
	tb.Helper()
	env, err := wp.NewEnv(&wp.Program{Name: "test", Arch: wp.ArchGoSSA.Name})
	require.NoError(tb, err)
	return env
}

// NewRefutedResult returns a result whose model sets arg0 directly, arg1
// through its entry variable and one byte of memory.
func NewRefutedResult() *wp.Result {
	model := wp.NewModel()
	model.Vars["arg0"] = wp.NewConstantExpr64(5)
	model.Vars["init_arg1"] = wp.NewConstantExpr64(7)
	model.Memory[wp.MemoryName] = &wp.MemoryModel{Bytes: map[uint64]byte{0x10: 0xAB}}
	return &wp.Result{
		Verdict:      wp.Refuted,
		Exact:        true,
		Model:        model,
		RefutedGoals: []string{"ret0 equal at exit"},
	}
}
