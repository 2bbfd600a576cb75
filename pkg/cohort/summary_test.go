package cohort_test

import (
	"testing"

	"github.com/malbeclabs/rwe/pkg/cohort"
	"github.com/malbeclabs/rwe/pkg/tablestore"
	"github.com/stretchr/testify/require"
)

func TestCohort_PatientIDColumn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		columns []string
		want    string
		ok      bool
	}{
		{[]string{"Sample ID", "Patient ID", "patient_id"}, "Patient ID", true},
		{[]string{"x", "PATIENT_ID"}, "PATIENT_ID", true},
		{[]string{"Linked Patient ID (hashed)"}, "Linked Patient ID (hashed)", true},
		{[]string{"patient id"}, "", false},
		{[]string{"id"}, "", false},
	}
	for _, tt := range tests {
		got, ok := cohort.PatientIDColumn(tt.columns)
		require.Equal(t, tt.ok, ok, tt.columns)
		require.Equal(t, tt.want, got)
	}
}

func TestCohort_Summarize(t *testing.T) {
	t.Parallel()

	filter := cohort.FilterSpec{"Cancer Type": "NSCLC", "Stage": "Stage 4"}
	s := cohort.Summarize(cohort.ApplyFilter(patientsTable(), filter), filter)

	require.Equal(t, "patients", s.TableUsed)
	require.Equal(t, 5, s.RowCount)
	require.NotNil(t, s.PatientCount)
	require.Equal(t, 4, *s.PatientCount)
	require.Equal(t, "Patient ID", s.PatientIDColumn)
	require.Equal(t, []string{"P-0001", "P-0002", "P-0003", "P-0006", "P-0002"}, s.SampleIDs)
}

func TestCohort_Summarize_NoPatientColumn(t *testing.T) {
	t.Parallel()

	tbl := tablestore.NewTable("samples", "", "", []string{"Sample", "Value"}, [][]string{{"s1", "1"}})
	s := cohort.Summarize(tbl, nil)
	require.Equal(t, 1, s.RowCount)
	require.Nil(t, s.PatientCount)
	require.Empty(t, s.PatientIDColumn)
	require.Empty(t, s.SampleIDs)
}

func TestCohort_ValueCounts(t *testing.T) {
	t.Parallel()

	counts, ok := cohort.ValueCounts(patientsTable(), "Stage", 2)
	require.True(t, ok)
	require.Equal(t, []cohort.ValueCount{{Value: "Stage 4", Count: 6}, {Value: "Stage 2", Count: 1}}, counts)

	_, ok = cohort.ValueCounts(patientsTable(), "nope", 0)
	require.False(t, ok)
}
