package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataHashKnownVectors(t *testing.T) {
	tests := []struct {
		name   string
		fields ConfigFields
		want   string
	}{
		{
			name:   "all empty",
			fields: ConfigFields{},
			want:   "1867f76f89b18a0f04c72020a91ed03b5557354322022ed5b08d045d20b8689c",
		},
		{
			name:   "single stock",
			fields: ConfigFields{StockCodes: "sh600000"},
			want:   "e89ed44d979b7f0be4e759bd58660c48a1e80fbeee2e9014f63a43424a62dee9",
		},
		{
			name:   "two stocks",
			fields: ConfigFields{StockCodes: "sh600000,sh600001"},
			want:   "ae1063b67b3c0fe80df6c76df9b15cf8a60f3f2af97a9f6a2e8020d11b92d25e",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DataHash(tt.fields))
		})
	}
}

func TestDataHashDeterminism(t *testing.T) {
	fields := ConfigFields{
		StockCodes:   "sh600000,sz000001",
		Memos:        `{"sh600000":"bank"}`,
		Holdings:     "100@10.5",
		AlertPrices:  "11.0",
		IndexCodes:   "sh000001",
		PinnedStocks: "sh600000",
	}

	h1 := DataHash(fields)
	h2 := DataHash(fields)

	assert.Equal(t, h1, h2, "DataHash must be deterministic")
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestDataHashSensitiveToEveryField(t *testing.T) {
	base := ConfigFields{}
	seen := map[string]string{DataHash(base): "base"}

	for _, name := range FieldNames {
		fields := FieldsFromMap(map[string]string{name: "x"})
		h := DataHash(fields)
		prev, dup := seen[h]
		assert.False(t, dup, "field %s collides with %s", name, prev)
		seen[h] = name
	}
}

func TestDataHashFieldPositionMatters(t *testing.T) {
	a := ConfigFields{StockCodes: "a", Memos: ""}
	b := ConfigFields{StockCodes: "", Memos: "a"}

	assert.NotEqual(t, DataHash(a), DataHash(b))
}

func TestFieldsFromMapMissingKeysAreEmpty(t *testing.T) {
	f := FieldsFromMap(map[string]string{FieldHoldings: "h"})

	assert.Equal(t, ConfigFields{Holdings: "h"}, f)
	assert.Equal(t, []string{"", "", "h", "", "", ""}, f.Values())
}

func TestAuditActionValid(t *testing.T) {
	for _, a := range []AuditAction{AuditRead, AuditWrite, AuditConflict, AuditMerge} {
		assert.True(t, a.Valid(), "%s should be valid", a)
	}
	assert.False(t, AuditAction("delete").Valid())
}
