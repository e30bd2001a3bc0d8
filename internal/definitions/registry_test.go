// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package definitions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePersister struct {
	got []Definition
}

func (f *fakePersister) ReplaceAll(defs []Definition) error {
	f.got = defs
	return nil
}

func writeCSV(t *testing.T, rows []string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "defs.csv")
	require.NoError(t, os.WriteFile(path, []byte(joinLines(rows)), 0o644))
	return path
}

func joinLines(rows []string) string {
	out := ""
	for _, r := range rows {
		out += r + "\n"
	}
	return out
}

func validRow(idHex, dlc, name, desc string) string {
	cols := make([]string, 16)
	cols[1] = "powertrain"
	cols[3] = idHex
	cols[4] = dlc
	cols[14] = name
	cols[15] = desc
	return joinCols(cols)
}

func joinCols(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += "," + c
	}
	return out
}

func TestLoadSkipsMetadataAndHeaderRows(t *testing.T) {
	rows := []string{
		"meta1", "meta2", "meta3", "meta4", "meta5", "header",
		validRow("0x780", "8", "NodeIntro", "node introduction"),
	}
	path := writeCSV(t, rows)

	r := New()
	p := &fakePersister{}
	require.NoError(t, r.Load(path, p))

	assert.Equal(t, "NodeIntro", r.NameFor(0x780))
	require.Len(t, p.got, 1)
	assert.Equal(t, int64(0x780), p.got[0].IDDec)
}

func TestLoadSkipsMalformedRows(t *testing.T) {
	rows := []string{
		"m1", "m2", "m3", "m4", "m5", "header",
		"too,few,columns",
		validRow("not-hex", "8", "Bad", "bad id"),
		validRow("0x700", "", "DefaultDLC", "uses default dlc"),
	}
	path := writeCSV(t, rows)

	r := New()
	require.NoError(t, r.Load(path, nil))

	assert.Equal(t, UnknownName, r.NameFor(0x780))
	d := r.All()
	require.Len(t, d, 1)
	assert.Equal(t, 8, d[0].DLC, "missing dlc column falls back to the 8-byte default")
}

func TestNameForUnknown(t *testing.T) {
	r := New()
	assert.Equal(t, UnknownName, r.NameFor(0x123))
}
