package fixtures

import (
	"bytes"
	_ "embed"
	"os"
	"path/filepath"
	"text/template"
)

//go:embed testdata/patients.tsv.tmpl
var patientsTemplate string

//go:embed testdata/metadata.txt
var metadataText string

// seq generates a sequence of integers from start to end (inclusive)
func seq(start, end int) []int {
	if start > end {
		return []int{}
	}
	result := make([]int, end-start+1)
	for i := range result {
		result[i] = start + i
	}
	return result
}

var templateFuncs = template.FuncMap{
	"seq": seq,
}

// RenderTemplate renders a template string with the given data
func RenderTemplate(templateContent string, data any) (string, error) {
	var buf bytes.Buffer
	tmpl := template.New("").Funcs(templateFuncs)
	tmpl, err := tmpl.Parse(templateContent)
	if err != nil {
		return "", err
	}
	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Cohort controls the rendered patients table. The eight fixed rows hold
// five NSCLC stage 4 samples from four patients with TMB values 4, 10
// and 7; filler rows are Melanoma stage 1 with no TMB.
type Cohort struct {
	FillerRows int
}

// PatientsTSV renders the patients fixture as tab-separated text.
func PatientsTSV(c Cohort) (string, error) {
	return RenderTemplate(patientsTemplate, c)
}

// WritePatients writes the patients fixture into dir and returns its path.
func WritePatients(dir string, c Cohort) (string, error) {
	content, err := PatientsTSV(c)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "patients.tsv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Metadata returns the dataset description handed to the planner.
func Metadata() string {
	return metadataText
}

// WriteMetadata writes the metadata description into dir and returns its path.
func WriteMetadata(dir string) (string, error) {
	path := filepath.Join(dir, "metadata.txt")
	if err := os.WriteFile(path, []byte(metadataText), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
