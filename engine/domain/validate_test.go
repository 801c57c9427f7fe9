package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateQuery(t *testing.T) {
	for _, q := range []string{"", "   ", "\t\n"} {
		assert.ErrorIs(t, ValidateQuery(q), ErrEmptyQuery, "query %q", q)
	}
	assert.NoError(t, ValidateQuery("Which carrier has the most delays?"))
}

func TestParseDelayed(t *testing.T) {
	cases := map[string]bool{
		"yes": true, "YES": true, " y ": true, "true": true, "1": true,
		"no": false, "No": false, "n": false, "FALSE": false, "0": false,
	}
	for in, want := range cases {
		got, err := ParseDelayed(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}
}

func TestParseDelayedRejectsUnknown(t *testing.T) {
	for _, in := range []string{"", "maybe", "2"} {
		_, err := ParseDelayed(in)
		assert.True(t, errors.Is(err, ErrInvalidDelayed), "input %q", in)
	}
}

func TestFormatDelayed(t *testing.T) {
	assert.Equal(t, "yes", FormatDelayed(true))
	assert.Equal(t, "no", FormatDelayed(false))
}

func TestQueryMentions(t *testing.T) {
	assert.True(t, QueryMentions("Show SUPPLIERS with issues", "supplier"))
	assert.True(t, QueryMentions("late deliveries", "carrier", "delay", "late"))
	assert.False(t, QueryMentions("inventory levels", "carrier", "delay"))
	assert.False(t, QueryMentions("anything"))
}

func TestTableError(t *testing.T) {
	err := NewTableError(TableLogistics, 3, "delayed", ErrInvalidDelayed)
	assert.ErrorIs(t, err, ErrInvalidDelayed)
	assert.Equal(t, `table logistics: row 3: column "delayed": invalid delayed flag`, err.Error())

	hdr := NewTableError(TableReturns, 0, "date", ErrInvalidTable)
	assert.Equal(t, `table returns: column "date": invalid source table`, hdr.Error())
}
