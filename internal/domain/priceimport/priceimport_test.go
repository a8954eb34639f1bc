package priceimport

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/labdesk/internal/domain/catalog"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type mockTestRepo struct {
	tests     []catalog.Test
	listErr   error
	updateErr error
	applied   []catalog.PriceUpdate
}

func (m *mockTestRepo) ListTests(_ context.Context) ([]catalog.Test, error) {
	return m.tests, m.listErr
}

func (m *mockTestRepo) UpdatePrices(_ context.Context, updates []catalog.PriceUpdate) (int, error) {
	if m.updateErr != nil {
		return 0, m.updateErr
	}
	m.applied = append(m.applied, updates...)
	return len(updates), nil
}

func (m *mockTestRepo) DeleteTests(_ context.Context, _ []string) error { return nil }

func newRepo() *mockTestRepo {
	return &mockTestRepo{tests: []catalog.Test{
		{ID: "t-cbc", Code: "CBC", Name: "Complete Blood Count", Price: d("500"), L2LPrice: d("150")},
		{ID: "t-tsh", Code: "TSH", Name: "Thyroid Stimulating Hormone", Price: d("600"), L2LPrice: d("200")},
		{ID: "t-vitd", Code: "", Name: "Vitamin D (25-OH)", Price: d("1500")},
	}}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "₹1,200.50", want: "1200.50"},
		{in: "1200", want: "1200"},
		{in: " Rs 99 ", want: "99"},
		{in: "-15", want: "-15"},
		{in: "N/A", wantErr: true},
		{in: "", wantErr: true},
		{in: "-", wantErr: true},
		{in: "1.2.3", wantErr: true},
		{in: "Infinity", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrNotANumber)
				return
			}
			require.NoError(t, err)
			assert.True(t, d(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestReadRows(t *testing.T) {
	sheet := "\ufeffTest Code,Test  Name,Notes,MRP,L2L Price\n" +
		"cbc , Complete Blood Count,x,\"₹1,200.50\",140\n" +
		",,,,\n" +
		"TSH,,,N/A,\n"

	rows, err := ReadRows(strings.NewReader(sheet))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{Line: 2, Code: "cbc", Name: "Complete Blood Count", Price: "₹1,200.50", Cost: "140"}, rows[0])
	assert.Equal(t, Row{Line: 4, Code: "TSH", Price: "N/A"}, rows[1])
}

func TestReadRows_HeaderErrors(t *testing.T) {
	_, err := ReadRows(strings.NewReader("sku,price\nA,1\n"))
	require.ErrorIs(t, err, ErrNoKeyColumn)

	_, err = ReadRows(strings.NewReader("code,notes\nA,1\n"))
	require.ErrorIs(t, err, ErrNoValueColumn)

	_, err = ReadRows(strings.NewReader(""))
	require.Error(t, err)
}

func TestPlan(t *testing.T) {
	snap := catalog.NewSnapshot(newRepo().tests, nil)
	rows := []Row{
		{Line: 2, Code: " cbc ", Price: "₹1,200.50"},
		{Line: 3, Code: "UNKNOWN", Name: "thyroid stimulating hormone", Cost: "210"},
		{Line: 4, Code: "XYZ", Price: "100"},
		{Line: 5, Code: "CBC", Price: "N/A"},
		{Line: 6, Name: "Vitamin D (25-OH)", Price: "1500"},
		{Line: 7, Code: "TSH", Cost: "-5"},
		{Line: 8, Code: "TSH"},
		{Line: 9, Code: "CBC", Price: "₹12,345,678,901"},
		{Line: 10, Code: "TSH", Cost: "9999999999.999"},
	}

	r, updates := Plan(rows, snap)

	assert.Equal(t, 9, r.Rows)
	assert.Equal(t, 3, r.Matched)
	assert.Equal(t, 6, r.Failed)
	assert.Equal(t, []RowFailure{
		{Line: 4, Ref: "XYZ", Reason: ReasonNoMatch},
		{Line: 5, Ref: "CBC", Reason: ReasonInvalidPrice},
		{Line: 7, Ref: "TSH", Reason: ReasonNegative},
		{Line: 8, Ref: "TSH", Reason: ReasonNoValue},
		{Line: 9, Ref: "CBC", Reason: ReasonTooLarge},
		{Line: 10, Ref: "TSH", Reason: ReasonTooLarge},
	}, r.Failures)

	require.Len(t, updates, 2, "unchanged vitamin D price is not rewritten")
	assert.Equal(t, "t-cbc", updates[0].TestID)
	assert.True(t, d("1200.50").Equal(*updates[0].Price))
	assert.Nil(t, updates[0].L2LPrice)
	assert.Equal(t, "t-tsh", updates[1].TestID, "name fallback when code does not match")
	assert.Nil(t, updates[1].Price)
	assert.True(t, d("210").Equal(*updates[1].L2LPrice))
	assert.Equal(t, 2, r.Updated)
}

func TestPlan_LaterRowWins(t *testing.T) {
	snap := catalog.NewSnapshot(newRepo().tests, nil)
	_, updates := Plan([]Row{
		{Line: 2, Code: "CBC", Price: "510", Cost: "160"},
		{Line: 3, Code: "CBC", Cost: "170"},
	}, snap)

	require.Len(t, updates, 1)
	assert.True(t, d("510").Equal(*updates[0].Price))
	assert.True(t, d("170").Equal(*updates[0].L2LPrice))
}

func TestImport(t *testing.T) {
	sheet := "code,price,cost\nCBC,550,\nTSH,,N/A\n"

	tests := []struct {
		name        string
		gzip        bool
		dryRun      bool
		wantApplied int
	}{
		{name: "plain"},
		{name: "gzip", gzip: true},
		{name: "dry run", dryRun: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var src bytes.Buffer
			if tt.gzip {
				zw := pgzip.NewWriter(&src)
				_, err := zw.Write([]byte(sheet))
				require.NoError(t, err)
				require.NoError(t, zw.Close())
			} else {
				src.WriteString(sheet)
			}

			repo := newRepo()
			r, err := NewImporter(repo).Import(context.Background(), &src, tt.dryRun)
			require.NoError(t, err)

			assert.Equal(t, 2, r.Rows)
			assert.Equal(t, 1, r.Matched)
			assert.Equal(t, 1, r.Failed)
			assert.Equal(t, 1, r.Updated)
			assert.Equal(t, tt.dryRun, r.DryRun)
			if tt.dryRun {
				assert.Empty(t, repo.applied)
				return
			}
			require.Len(t, repo.applied, 1)
			assert.True(t, d("550").Equal(*repo.applied[0].Price))
		})
	}
}

func TestImport_RepositoryErrors(t *testing.T) {
	boom := errors.New("connection refused")

	repo := newRepo()
	repo.listErr = boom
	_, err := NewImporter(repo).Import(context.Background(), strings.NewReader("code,price\nCBC,1\n"), false)
	require.ErrorIs(t, err, boom)

	repo = newRepo()
	repo.updateErr = boom
	_, err = NewImporter(repo).Import(context.Background(), strings.NewReader("code,price\nCBC,1\n"), false)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "update prices")
}
