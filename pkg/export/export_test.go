package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset(rows int) Dataset {
	data := Dataset{Title: "Loans", Headers: []string{"scanCode", "user", "checkedOutAt"}}
	for i := 0; i < rows; i++ {
		data.Rows = append(data.Rows, map[string]string{"scanCode": "FLX-1", "user": "Jane, Doe", "checkedOutAt": "2026-01-02"})
	}
	return data
}

func TestCSVExporterQuotesValues(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset(1))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "scanCode,user,checkedOutAt", lines[0])
	assert.Equal(t, `FLX-1,"Jane, Doe",2026-01-02`, lines[1])
}

func TestPDFExporterPaginates(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleDataset(120))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderersRequireHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
	_, err = NewPDFExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestForFormat(t *testing.T) {
	r, err := ForFormat("PDF")
	require.NoError(t, err)
	assert.Equal(t, "pdf", r.Extension())

	r, err = ForFormat("")
	require.NoError(t, err)
	assert.Equal(t, "csv", r.Extension())

	_, err = ForFormat("xlsx")
	assert.Error(t, err)
}
