package receptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const testParameters = `{
	"dish_parameters": {
		"SKA001": {"vcc": 1, "k": 1000},
		"SKA036": {"vcc": 2, "k": 1000},
		"SKA063": {"vcc": 3, "k": 1000},
		"SKA100": {"vcc": 4, "k": 1000},
		"MKT000": {"vcc": 5, "k": 1178},
		"MKT063": {"vcc": 6, "k": 2222}
	}
}`

func newTestMapper(t *testing.T) *Mapper {
	m, err := New([]byte(testParameters))
	assert.NoError(t, err)
	return m
}

func TestMapperBijection(t *testing.T) {
	m := newTestMapper(t)
	for _, id := range m.Receptors() {
		ch, err := m.ChannelizerID(id)
		assert.NoError(t, err)
		back, err := m.ReceptorID(ch)
		assert.NoError(t, err)
		assert.Equal(t, id, back)
	}
}

func TestMapperLookups(t *testing.T) {
	m := newTestMapper(t)

	ch, err := m.ChannelizerID("SKA036")
	assert.NoError(t, err)
	assert.Equal(t, 2, ch)

	k, err := m.K("MKT000")
	assert.NoError(t, err)
	assert.Equal(t, 1178, k)

	_, err = m.ChannelizerID("SKA002")
	assert.Error(t, err)
	_, err = m.ReceptorID(42)
	assert.Error(t, err)
	_, err = m.K("SKA002")
	assert.Error(t, err)
}

func TestMapperReceptorsSorted(t *testing.T) {
	m := newTestMapper(t)
	assert.Equal(t,
		[]string{"MKT000", "MKT063", "SKA001", "SKA036", "SKA063", "SKA100"},
		m.Receptors())
}

func TestMapperValidate(t *testing.T) {
	m := newTestMapper(t)

	assert.NoError(t, m.Validate("SKA001"))
	assert.NoError(t, m.Validate("MKT063"))

	// Well formed but not loaded.
	assert.Error(t, m.Validate("SKA133"))

	// Out of range instances.
	assert.Error(t, m.Validate("SKA000"))
	assert.Error(t, m.Validate("SKA134"))
	assert.Error(t, m.Validate("MKT064"))

	// Malformed ids, including embedded whitespace.
	assert.Error(t, m.Validate("ska001"))
	assert.Error(t, m.Validate("SKA1"))
	assert.Error(t, m.Validate("SKA 01"))
	assert.Error(t, m.Validate(" SKA001"))
	assert.Error(t, m.Validate("SKA001 "))
	assert.Error(t, m.Validate("XYZ001"))
	assert.Error(t, m.Validate(""))
}

func TestMapperValidateAll(t *testing.T) {
	m := newTestMapper(t)
	assert.NoError(t, m.ValidateAll([]string{"SKA001", "MKT000"}))
	err := m.ValidateAll([]string{"SKA001", "SKA999"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "SKA999")
}

func TestMapperLoadErrors(t *testing.T) {
	_, err := New([]byte("not json"))
	assert.Error(t, err)

	_, err = New([]byte(`{"dish_parameters": {}}`))
	assert.Error(t, err)

	// Duplicate channelizer assignment breaks the bijection.
	_, err = New([]byte(`{
		"dish_parameters": {
			"SKA001": {"vcc": 1, "k": 1000},
			"SKA002": {"vcc": 1, "k": 1000}
		}
	}`))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "channelizer 1")

	// Bad receptor id in the file.
	_, err = New([]byte(`{
		"dish_parameters": {"SKA934": {"vcc": 1, "k": 1000}}
	}`))
	assert.Error(t, err)

	// k out of range.
	_, err = New([]byte(`{
		"dish_parameters": {"SKA001": {"vcc": 1, "k": 2223}}
	}`))
	assert.Error(t, err)
}
