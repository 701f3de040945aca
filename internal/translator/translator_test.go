package translator

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crisgenomics/cris-query/internal/domain"
)

func selections(t *testing.T, body string) domain.Selections {
	t.Helper()
	var s domain.Selections
	require.NoError(t, json.Unmarshal([]byte(body), &s))
	return s
}

func TestTranslate_Rendered(t *testing.T) {
	tests := []struct {
		name       string
		selections string
		limit      int
		want       string
	}{
		{
			name:       "no selections",
			selections: `{}`,
			limit:      100,
			want:       "SELECT * FROM cris_database.cris_table WHERE 1=1 LIMIT 100",
		},
		{
			name:       "only unknown fields",
			selections: `{"tissue": "liver", "foo": {"operator": ">", "value": "3"}}`,
			limit:      25,
			want:       "SELECT * FROM cris_database.cris_table WHERE 1=1 LIMIT 25",
		},
		{
			name:       "default limit",
			selections: `{}`,
			limit:      0,
			want:       "SELECT * FROM cris_database.cris_table WHERE 1=1 LIMIT 100",
		},
		{
			name:       "species and litigation time",
			selections: `{"species": "mouse", "litigation_time": {"operator": ">", "value": "10"}}`,
			limit:      100,
			want:       "SELECT * FROM cris_database.cris_table WHERE species = 'mouse' AND litigation_time > 10 LIMIT 100",
		},
		{
			name: "every field",
			selections: `{
				"exo_time": {"operator": "!=", "value": "2.5"},
				"extra": "x",
				"ligase": "T4",
				"ligation_incubation_time": {"operator": "<=", "value": 30},
				"crosslinker": "DSG",
				"cell_type": "HeLa",
				"litigation_time": {"value": "7"},
				"species": "human"
			}`,
			limit: 5,
			want: "SELECT * FROM cris_database.cris_table WHERE species = 'human' AND cell_type = 'HeLa' AND " +
				"crosslinker = 'DSG' AND ligase = 'T4' AND extra = 'x' AND litigation_time = 7 AND " +
				"ligation_incubation_time <= 30 AND exo_time != 2.5 LIMIT 5",
		},
		{
			name:       "empty values are unset",
			selections: `{"species": "", "cell_type": null, "exo_time": {"operator": "<", "value": ""}, "litigation_time": {"operator": ">"}}`,
			limit:      100,
			want:       "SELECT * FROM cris_database.cris_table WHERE 1=1 LIMIT 100",
		},
		{
			name:       "quotes are escaped when rendered",
			selections: `{"species": "o'brien' OR '1'='1"}`,
			limit:      100,
			want:       "SELECT * FROM cris_database.cris_table WHERE species = 'o''brien'' OR ''1''=''1' LIMIT 100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Translate(selections(t, tt.selections), tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.String())
		})
	}
}

func TestTranslate_Parameterized(t *testing.T) {
	s := selections(t, `{"species": "mouse' --", "litigation_time": {"operator": ">=", "value": "10"}}`)

	q, err := Translate(s, 50)
	require.NoError(t, err)

	assert.Equal(t, "SELECT * FROM cris_database.cris_table WHERE species = ? AND litigation_time >= ? LIMIT 50", q.SQL)
	require.Len(t, q.Args, 2)
	assert.Equal(t, "mouse' --", q.Args[0])
	assert.True(t, decimal.RequireFromString("10").Equal(q.Args[1].(decimal.Decimal)))
	assert.Equal(t, []any{"mouse' --", "10"}, q.Parameters())
	assert.Equal(t, 50, q.Limit)
}

func TestTranslate_Deterministic(t *testing.T) {
	body := `{"exo_time": {"operator": "<", "value": "4"}, "species": "mouse", "ligase": "T4", "litigation_time": {"operator": ">", "value": "1"}}`

	first, err := Translate(selections(t, body), 100)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		q, err := Translate(selections(t, body), 100)
		require.NoError(t, err)
		assert.Equal(t, first.SQL, q.SQL)
		assert.Equal(t, first.String(), q.String())
	}
}

func TestTranslate_ValueBounds(t *testing.T) {
	for _, v := range []string{"1e64", "1.5e-10", "123456789.123456789", "-42"} {
		t.Run(v, func(t *testing.T) {
			q, err := Translate(selections(t, `{"exo_time": {"operator": "<", "value": "`+v+`"}}`), 100)
			require.NoError(t, err)
			assert.Less(t, len(q.String()), 200)
		})
	}
}

func TestTranslate_Errors(t *testing.T) {
	tests := []struct {
		name       string
		selections string
		wantErr    error
	}{
		{
			name:       "operator injection",
			selections: `{"litigation_time": {"operator": "> 0 OR 1=1 --", "value": "1"}}`,
			wantErr:    ErrInvalidOperator,
		},
		{
			name:       "unsupported operator with empty value",
			selections: `{"exo_time": {"operator": "LIKE", "value": ""}}`,
			wantErr:    ErrInvalidOperator,
		},
		{
			name:       "non numeric value",
			selections: `{"exo_time": {"operator": "<", "value": "1; DROP TABLE x"}}`,
			wantErr:    ErrInvalidValue,
		},
		{
			name:       "huge exponent",
			selections: `{"exo_time": {"operator": "<", "value": "1e2000000000"}}`,
			wantErr:    ErrInvalidValue,
		},
		{
			name:       "huge negative exponent",
			selections: `{"litigation_time": {"operator": ">", "value": "1e-1000000"}}`,
			wantErr:    ErrInvalidValue,
		},
		{
			name:       "value too long",
			selections: `{"litigation_time": {"operator": ">", "value": "` + strings.Repeat("9", 65) + `"}}`,
			wantErr:    ErrInvalidValue,
		},
		{
			name:       "equality field not a string",
			selections: `{"species": 5}`,
			wantErr:    ErrInvalidSelection,
		},
		{
			name:       "range field not an object",
			selections: `{"litigation_time": "10"}`,
			wantErr:    ErrInvalidSelection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Translate(selections(t, tt.selections), 100)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}
