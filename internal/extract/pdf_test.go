package extract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uzadolat/courtharvest/internal/extract"
	"github.com/uzadolat/courtharvest/internal/harvest"
)

func TestExtractEmptyInput(t *testing.T) {
	t.Parallel()

	e := extract.NewPDF()
	_, err := e.Extract(nil)

	var ee *harvest.ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "empty document", ee.Reason)
}

func TestExtractGarbageInput(t *testing.T) {
	t.Parallel()

	e := extract.NewPDF()
	_, err := e.Extract([]byte("<html>not a pdf at all</html>"))

	var ee *harvest.ExtractionError
	require.ErrorAs(t, err, &ee)
}

func TestExtractTruncatedPDF(t *testing.T) {
	t.Parallel()

	e := extract.NewPDF()
	// A valid header with a missing body must fail structurally, not panic.
	_, err := e.Extract([]byte("%PDF-1.7\n1 0 obj\n<<>>\n"))

	var ee *harvest.ExtractionError
	require.ErrorAs(t, err, &ee)
}
