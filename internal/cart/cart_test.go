package cart

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/scan-kiosk/internal/model"
)

var (
	soap  = model.Product{Code: "8901030875845", Name: "Soap", Category: "Toiletries", UnitPrice: 2500}
	water = model.Product{Code: "8992761111113", Name: "Water", Category: "Beverages", UnitPrice: 3000}
)

func TestApplyCreatesThenIncrements(t *testing.T) {
	c := New()
	l := c.Apply(soap)
	assert.Equal(t, model.CartLine{Name: "Soap", UnitPrice: 2500, Quantity: 1, Category: "Toiletries", Subtotal: 2500}, l)
	l = c.Apply(soap)
	assert.Equal(t, int64(2), l.Quantity)
	assert.Equal(t, int64(5000), l.Subtotal)
}

func TestQuantityMatchesAcceptedScans(t *testing.T) {
	c := New()
	for i := 1; i <= 25; i++ {
		l := c.Apply(soap)
		require.Equal(t, int64(i), l.Quantity)
		require.Equal(t, l.UnitPrice*l.Quantity, l.Subtotal)
	}
}

func TestSnapshotOrderAndIndependence(t *testing.T) {
	c := New()
	c.Apply(water)
	c.Apply(soap)
	c.Apply(water)
	s := c.Snapshot()
	require.Len(t, s.Lines, 2)
	assert.Equal(t, "Water", s.Lines[0].Name)
	assert.Equal(t, "Soap", s.Lines[1].Name)
	assert.Equal(t, int64(8500), s.Total())
	assert.Equal(t, int64(3), s.ItemCount())

	c.Apply(soap)
	assert.Equal(t, int64(1), s.Lines[1].Quantity, "snapshot must not follow later mutations")
}

func TestClear(t *testing.T) {
	c := New()
	c.Apply(soap)
	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("Soap")
	assert.False(t, ok)
	l := c.Apply(soap)
	assert.Equal(t, int64(1), l.Quantity)
}

func TestSnapshotJSONKeepsInsertionOrder(t *testing.T) {
	c := New()
	c.Apply(water)
	c.Apply(soap)
	c.Apply(soap)
	b, err := json.Marshal(c.Snapshot())
	require.NoError(t, err)
	assert.Equal(t,
		`{"Water":{"price":3000,"quantity":1,"category":"Beverages","total_price":3000},"Soap":{"price":2500,"quantity":2,"category":"Toiletries","total_price":5000}}`,
		string(b))

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.EqualValues(t, 5000, decoded["Soap"]["total_price"])
}

func TestEmptySnapshotJSON(t *testing.T) {
	b, err := json.Marshal(New().Snapshot())
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))
}
