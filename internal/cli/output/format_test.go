package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{input: "", want: FormatTable},
		{input: "  table ", want: FormatTable},
		{input: "JSON", want: FormatJSON},
		{input: "yml", want: FormatYAML},
		{input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.ErrorContains(t, err, "invalid output format")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrinter_Status(t *testing.T) {
	var plain, colored bytes.Buffer

	NewPrinter(&plain, FormatTable, false).Success("collected 3 lock(s)")
	NewPrinter(&colored, FormatTable, true).Warning("lock is pinned")

	assert.Equal(t, "collected 3 lock(s)\n", plain.String())
	assert.Equal(t, "\033[33mlock is pinned\033[0m\n", colored.String())
}

func TestPrinter_Formats(t *testing.T) {
	data := map[string]int{"collected": 2}

	t.Run("YAML", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewPrinter(&buf, FormatYAML, false).Print(data))
		assert.Equal(t, "collected: 2\n", buf.String())
	})

	t.Run("TableFallsBackToJSON", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewPrinter(&buf, FormatTable, false).Print(data))
		assert.JSONEq(t, `{"collected": 2}`, buf.String())
	})

	t.Run("Unknown", func(t *testing.T) {
		assert.Error(t, NewPrinter(new(bytes.Buffer), "csv", false).Print(data))
	})
}

func TestSimpleTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SimpleTable(&buf, [][2]string{
		{"Client", "node-1"},
		{"Session", "4"},
	}))

	out := buf.String()
	assert.Contains(t, out, "Client")
	assert.Contains(t, out, "node-1")
	assert.Contains(t, out, "Session")
}
