package fixtures

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixtures_Seq(t *testing.T) {
	t.Parallel()

	require.Equal(t, []int{2, 3, 4}, seq(2, 4))
	require.Empty(t, seq(3, 1))
}

func TestFixtures_PatientsTSV(t *testing.T) {
	t.Parallel()

	t.Run("fixed rows only", func(t *testing.T) {
		t.Parallel()

		out, err := PatientsTSV(Cohort{})
		require.NoError(t, err)
		lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
		require.Len(t, lines, 9)
		require.Equal(t, []string{"Patient ID", "Cancer Type", "Stage", "TMB (nonsynonymous)", "Age", "Sex"}, strings.Split(lines[0], "\t"))
		for _, line := range lines {
			require.Len(t, strings.Split(line, "\t"), 6)
		}
	})

	t.Run("filler rows", func(t *testing.T) {
		t.Parallel()

		out, err := PatientsTSV(Cohort{FillerRows: 3})
		require.NoError(t, err)
		require.Contains(t, out, "F-0001\tMelanoma")
		require.Contains(t, out, "F-0003\tMelanoma")
		require.NotContains(t, out, "F-0004")
	})
}

func TestFixtures_WritePatients(t *testing.T) {
	t.Parallel()

	path, err := WritePatients(t.TempDir(), Cohort{})
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "Patient ID\t"))

	meta, err := WriteMetadata(t.TempDir())
	require.NoError(t, err)
	data, err = os.ReadFile(meta)
	require.NoError(t, err)
	require.Equal(t, Metadata(), string(data))
}

func TestFixtures_PatientsTable(t *testing.T) {
	t.Parallel()

	table, err := PatientsTable(Cohort{FillerRows: 2})
	require.NoError(t, err)
	require.Equal(t, "patients", table.Name)
	require.Equal(t, 10, table.Len())
	require.Equal(t, "F-0002", table.Column("Patient ID")[9])
	require.Equal(t, "", table.Column("TMB (nonsynonymous)")[2])

	src := NewStaticSource(table)
	_, ok := src.Lookup("patients")
	require.True(t, ok)
	_, err = src.Load(t.Context(), "genomics")
	require.Error(t, err)
	require.Len(t, src.Tables(), 1)
}
