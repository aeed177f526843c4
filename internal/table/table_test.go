package table

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const xlsxFixtureBase64 = `
UEsDBBQAAAAIAMEwN1vYAxPv/wAAALYCAAATABwAW0NvbnRlbnRfVHlwZXNdLnhtbFVUCQADyjjSaMo40mh1eAsAAQQAAAAABAAAAAC1ks1OwzAQhO95CsvX
Kt60B4RQkh74OQKH8gDG3iRW/CfbLeHtcVIEEqIIpHJaWTOz32jlejsZTQ4YonK2oWtWUYJWOKls39Cn3V15SbdtUe9ePUaSvTY2dEjJXwFEMaDhkTmPNiud
C4an/Aw9eC5G3iNsquoChLMJbSrTvIO2BSH1DXZ8rxO5nbJyRAfUkZLro3fGNZR7r5XgKetwsPILqHyHsJxcPHFQPq6ygcIpyCyeZnxGH/JFgpJIHnlI99xk
I0waXlwYn50b2c97vunquk4JlE7sTY6w6ANyGQfEZDRbJjNc2dWvKiz+CMtYn7nLx/6/V9n8d5Ualm/YFm9QSwMECgAAAAAAxDA3WwAAAAAAAAAAAAAAAAMA
HAB4bC9VVAkAA9A40mjyONJodXgLAAEEAAAAAAQAAAAAUEsDBBQAAAAIAMQwN1tM2kS6xQAAAEkBAAAPABwAeGwvd29ya2Jvb2sueG1sVVQJAAPQONJo0DjS
aHV4CwABBAAAAAAEAAAAAI1Qu27DMAzc/RUC90aOhyIwZGcJAnhvP0CxaVuIRRqk+vj8qjEMZOjQ7Y7k3ZF05++4mE8UDUwNHA8lGKSeh0BTA+9v15cTnNvC
fbHcb8x3k8dJG5hTWmtrtZ8xej3wipQ7I0v0KVOZrK6CftAZMcXFVmX5aqMPBJtDLf/x4HEMPV64/4hIaTMRXHzKy+ocVoW2MMY9QvQX7sSQj9hANxELgnnU
uiHfB0bqkIF0wxHsH5KLT/5JUD0Jqk3g7J7n7P6WtvgBUEsDBAoAAAAAANIwN1sAAAAAAAAAAAAAAAAOABwAeGwvd29ya3NoZWV0cy9VVAkAA+s40mjyONJo
dXgLAAEEAAAAAAQAAAAAUEsDBBQAAAAIANIwN1u3fFZsqwIAAIASAAAYABwAeGwvd29ya3NoZWV0cy9zaGVldDIueG1sVVQJAAPrONJo6zjSaHV4CwABBAAA
AAAEAAAAAJ3YT26bQBiH4X1OgVilkguD/wEVJkoMzibKJukBJngMqGYGDeMkvVXP0JN1nEhVQ/r7QCxx/BDsV9/gIbl6bY7Os9BdreTGDTzmOkIWal/LcuN+
f9x9jdyr9CJ5UfpHVwlhHPt+2W3cypj2m+93RSUa3nmqFdL+5aB0w4091KXftVrw/Rtqjv6csbXf8Fq66YXjJG8vZ9zw85E91urF0fb/u+/H9pXifHwduI7Z
uLU81lI8GO2mSd2liUlvtTq1iW/SxD+/4Bcf3Q1yWyULIY3mxn5e57L0777gs2zRWR5F0zqXv3/tCJwh/FAoLbDLkbtTBT+K+1PzJDTmO/jJuRGl0j8xvUX0
Xpn/XHDi22gf8837+ebgjNdEOmTYbEWkQipkRCKEAjYjWA6Zxxgpd0jyY1txogxyh1p3ZlSaRT/NYkIaZNhsTaRBKgyINAgFAZkGMi8YSIPkUBrkOlEouR/V
Ztlvs5zQBhk7NtTcILaOiTgIxdSI5vAKvXigDZJPwlBpEDNVrceVWfXLrMApb4gyyLBZSIRBKiS+4gyhgFw8c8g8tqLLIDk0Ncgd1EmbalSbdb/NekIbZOyK
Rk0NYuGSiINQPIuINvAKvTii2yA5MDWIHerDyDJhv0w4oQwytgzxdW0RCxdEGYTs2MyJNJB5bE6nQXJobJDr6teRbaJ+m2jCvQYZu8oQ39cWMSpohlBETg28
Qi8amBokS940VBrkOvFsNxzj4sT9OPGEwUHG3m6oJQ2xkPhplyEUU7e2HF6hF4d0HCQHljTERF1WI9ME7NPWlE2YHIgW1OfeQhZTvwagom/qOXaDGxxIh1Y2
CGU9dnqCz08P0I6Wmh+I7J2H2uZAFxJrYgaVvfcQ+6McO4/R29cdpENLHIRmYIVL/H+e9yT+34dJ6cUfUEsDBBQAAAAIAMcwN1sqMey0swAAAPgAAAAYABwA
eGwvd29ya3NoZWV0cy9zaGVldDEueG1sVVQJAAPWONJo1jjSaHV4CwABBAAAAAAEAAAAAE2P3WrDMAxG7/MURverkl6MUhyXwegLrHsA46iNqf+QxbLHr5OO
0cvzSfoO0qffGNQPcfU5jTDselCUXJ58uo3wfTm/HeBkOr1kvteZSFTbT3WEWaQcEaubKdq6y4VSm1wzRysN+Ya1MNlpO4oB933/jtH6BKZTSm/xpxW7UmPO
i+Lmhye3xK38MYCSEXwKPtGXMBjtq9FiSrCO5hwmYo1iNK4xur82bHWbBl88Gv+fMN0DUEsDBAoAAAAAAMYwN1sAAAAAAAAAAAAAAAAJABwAeGwvX3JlbHMv
VVQJAAPTONJo8jjSaHV4CwABBAAAAAAEAAAAAFBLAwQUAAAACADGMDdbCmPblLYAAACtAQAAGgAcAHhsL19yZWxzL3dvcmtib29rLnhtbC5yZWxzVVQJAAPT
ONJo0zjSaHV4CwABBAAAAAAEAAAAAL2QSwrCMBBA9z1FmL2dtgsRadqNCN1KPUBIpx/aJiGJv9sbBMWCgitXw/zePCYvr/PEzmTdoBWHNE6AkZK6GVTH4Vjv
Vxsoiyg/0CR8GHH9YBwLO8px6L03W0Qne5qFi7UhFTqttrPwIbUdGiFH0RFmSbJG+86AImJsgWVVw8FWTQqsvhn6Ba/bdpC00/I0k/IfruBF29H1RD5Ahe3I
c3iVHD5CGgcq4Fef7M8+2dMnx8XXi+gOUEsDBAoAAAAAAMMwN1sAAAAAAAAAAAAAAAAGABwAX3JlbHMvVVQJAAPNONJo8jjSaHV4CwABBAAAAAAEAAAAAFBL
AwQUAAAACADDMDdbDxvLDKoAAAAcAQAACwAcAF9yZWxzLy5yZWxzVVQJAAPNONJozTjSaHV4CwABBAAAAAAEAAAAAI3PsQ6CMBAG4J2naG6XgoMxxsJiTFgN
PkAtRyHQXtNWxbe3oxgHx8v9913+Y72YmT3Qh5GsgDIvgKFV1I1WC7i2580e6io7XnCWMUXCMLrA0o0NAoYY3YHzoAY0MuTk0KZNT97ImEavuZNqkhr5tih2
3H8aUGWMrVjWdAJ805XA2pfDf3jq+1HhidTdoI0/vnwlkiy9xihgmfmT/HQjmvKEAk8d+apklb0BUEsBAh4DFAAAAAgAwTA3W9gDE+//AAAAtgIAABMAGAAA
AAAAAQAAAKSBAAAAAFtDb250ZW50X1R5cGVzXS54bWxVVAUAA8o40mh1eAsAAQQAAAAABAAAAABQSwECHgMKAAAAAADEMDdbAAAAAAAAAAAAAAAAAwAYAAAA
AAAAABAA7UFMAQAAeGwvVVQFAAPQONJodXgLAAEEAAAAAAQAAAAAUEsBAh4DFAAAAAgAxDA3W0zaRLrFAAAASQEAAA8AGAAAAAAAAQAAAKSBiQEAAHhsL3dv
cmtib29rLnhtbFVUBQAD0DjSaHV4CwABBAAAAAAEAAAAAFBLAQIeAwoAAAAAANIwN1sAAAAAAAAAAAAAAAAOABgAAAAAAAAAEADtQZcCAAB4bC93b3Jrc2hl
ZXRzL1VUBQAD6zjSaHV4CwABBAAAAAAEAAAAAFBLAQIeAxQAAAAIANIwN1u3fFZsqwIAAIASAAAYABgAAAAAAAEAAACkgd8CAAB4bC93b3Jrc2hlZXRzL3No
ZWV0Mi54bWxVVAUAA+s40mh1eAsAAQQAAAAABAAAAABQSwECHgMUAAAACADHMDdbKjHstLMAAAD4AAAAGAAYAAAAAAABAAAApIHcBQAAeGwvd29ya3NoZWV0
cy9zaGVldDEueG1sVVQFAAPWONJodXgLAAEEAAAAAAQAAAAAUEsBAh4DCgAAAAAAxjA3WwAAAAAAAAAAAAAAAAkAGAAAAAAAAAAQAO1B4QYAAHhsL19yZWxz
L1VUBQAD0zjSaHV4CwABBAAAAAAEAAAAAFBLAQIeAxQAAAAIAMYwN1sKY9uUtgAAAK0BAAAaABgAAAAAAAEAAACkgSQHAAB4bC9fcmVscy93b3JrYm9vay54
bWwucmVsc1VUBQAD0zjSaHV4CwABBAAAAAAEAAAAAFBLAQIeAwoAAAAAAMMwN1sAAAAAAAAAAAAAAAAGABgAAAAAAAAAEADtQS4IAABfcmVscy9VVAUAA804
0mh1eAsAAQQAAAAABAAAAABQSwECHgMUAAAACADDMDdbDxvLDKoAAAAcAQAACwAYAAAAAAABAAAApIFuCAAAX3JlbHMvLnJlbHNVVAUAA8040mh1eAsAAQQA
AAAABAAAAABQSwUGAAAAAAoACgBTAwAAXQkAAAAA
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeFile(t, "people.csv", "id,name,score\n1, Ann ,3.5\n2,NA,\n3,Bob,4\n")
	tbl, err := Load(path, DefaultLoadOptions())
	require.NoError(t, err)

	assert.Equal(t, "people.csv", tbl.Name)
	assert.Equal(t, 3, tbl.Rows())
	assert.Equal(t, []string{"id", "name", "score"}, tbl.Header())

	name, ok := tbl.Column("name")
	require.True(t, ok)
	assert.Equal(t, " Ann ", name.Values[0], "surrounding whitespace is preserved")
	assert.Equal(t, "", name.Values[1], "null tokens become missing")
	assert.Equal(t, 1, name.MissingCount())

	score, err := tbl.MustColumn("score")
	require.NoError(t, err)
	assert.Equal(t, []string{"3.5", "4"}, score.NonMissing())
}

func TestLoadHeaderOnly(t *testing.T) {
	path := writeFile(t, "empty.csv", "a,b,c\n")
	tbl, err := Load(path, DefaultLoadOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Rows())
	assert.Equal(t, 3, tbl.Width())
}

func TestLoadTSVAndShortRows(t *testing.T) {
	path := writeFile(t, "data.tsv", "a\tb\n1\t2\n3\n")
	tbl, err := Load(path, LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Rows())
	assert.Equal(t, []string{"3", ""}, tbl.Row(1))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.csv"), LoadOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	path := writeFile(t, "data.parquet", "x")
	_, err = Load(path, LoadOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	tbl := New("t", []string{"a"})
	_, err = tbl.MustColumn("zzz")
	assert.ErrorIs(t, err, ErrColumnNotFound)
}

func TestSubsetCloneDelete(t *testing.T) {
	tbl := New("t", []string{"a", "b"})
	for _, r := range [][]string{{"1", "x"}, {"2", "y"}, {"3", "z"}, {"4", "w"}} {
		tbl.AppendRow(r)
	}

	sub := tbl.Subset([]int{0, 2})
	assert.Equal(t, 2, sub.Rows())
	assert.Equal(t, []string{"3", "z"}, sub.Row(1))

	cl := tbl.Clone()
	cl.Columns[0].Values[0] = "changed"
	assert.Equal(t, "1", tbl.Columns[0].Values[0])

	removed := tbl.DeleteRows(map[int]bool{1: true, 3: true})
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"1", "3"}, tbl.Columns[0].Values)
	assert.Equal(t, []string{"x", "z"}, tbl.Columns[1].Values)
}

func TestGroupBy(t *testing.T) {
	tbl := New("t", []string{"label"})
	for _, v := range []string{"b", "a", "", "b"} {
		tbl.AppendRow([]string{v})
	}
	groups, keys, err := tbl.GroupBy("label", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
	assert.Equal(t, []int{0, 3}, groups["b"])

	groups, keys, err = tbl.GroupBy("label", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "a", "b"}, keys)
	assert.Equal(t, []int{2}, groups[""])

	_, _, err = tbl.GroupBy("nope", true)
	assert.Error(t, err)
}

func TestWriteCSVRoundTrip(t *testing.T) {
	tbl := New("t", []string{"a", "b"})
	tbl.AppendRow([]string{"1", "hello, world"})
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl))

	back, err := ReadCSV(strings.NewReader(buf.String()), ',')
	require.NoError(t, err)
	assert.Equal(t, tbl.Row(0), back.Row(0))
}

func TestParseNumeric(t *testing.T) {
	cases := []struct {
		in   string
		nf   NumberFormat
		want float64
		ok   bool
	}{
		{"3.5", NumberFormat{}, 3.5, true},
		{"1.000,5", NumberFormat{}, 1000.5, true},
		{"1,000.5", NumberFormat{}, 1000.5, true},
		{"0,5", NumberFormat{DecimalSeparator: ','}, 0.5, true},
		{"45%", NumberFormat{}, 45, true},
		{"1e3", NumberFormat{}, 1000, true},
		{"abc", NumberFormat{}, 0, false},
		{"Inf", NumberFormat{}, 0, false},
		{"", NumberFormat{}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := ParseNumeric(tc.in, tc.nf)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.InDelta(t, tc.want, got, 1e-9)
			}
		})
	}
}

func TestParseTimeAndBool(t *testing.T) {
	_, ok := ParseTime("2024-03-01")
	assert.True(t, ok)
	_, ok = ParseTime("not a date")
	assert.False(t, ok)

	v, ok := ParseBool("Yes")
	assert.True(t, ok)
	assert.True(t, v)
	_, ok = ParseBool("maybe")
	assert.False(t, ok)
}

func TestLoadXLSXSheetSelection(t *testing.T) {
	raw := strings.ReplaceAll(strings.TrimSpace(xlsxFixtureBase64), "\n", "")
	data, err := base64.StdEncoding.DecodeString(raw)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "analysis_dataset.xlsx")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	expectFirst := []string{"A", "0,5", "70", "10,0", "1.000,0", "alpha", "first"}

	byName, err := Load(path, LoadOptions{Sheet: "Data"})
	require.NoError(t, err)
	assert.Equal(t, "analysis_dataset.xlsx", byName.Name)
	assert.Equal(t, 10, byName.Rows())
	assert.Equal(t, 7, byName.Width())
	assert.Equal(t, expectFirst, byName.Row(0))

	byIndex, err := LoadXLSX(path, "", 2)
	require.NoError(t, err)
	assert.Equal(t, byName.Rows(), byIndex.Rows())

	_, err = LoadXLSX(path, "Nope", 0)
	assert.ErrorContains(t, err, "sheet 'Nope' not found")
}
