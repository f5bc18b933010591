package intent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elena/agent/internal/types"
)

func newExtractor() *Extractor {
	return New(Defaults{Servicio: "Consultoría Marketing", Duracion: 1})
}

func TestExtractJSONEmbeddedInProse(t *testing.T) {
	text := `¡Listo Juan! Te agendo. {"agendar":true,"nombre":"Juan","email":"juan@x.com","fecha":"2025-11-18","hora":"15:00","servicio":"Perifoneo"} Nos vemos.`

	in, err := newExtractor().Extract(text)
	require.NoError(t, err)
	require.NotNil(t, in)
	assert.Equal(t, types.BookingIntent{
		Agendar:  true,
		Nombre:   "Juan",
		Email:    "juan@x.com",
		Fecha:    "2025-11-18",
		Hora:     "15:00",
		Servicio: "Perifoneo",
		Duracion: 1,
	}, *in)
}

func TestExtractNoJSON(t *testing.T) {
	in, err := newExtractor().Extract("Claro, ¿qué día te gustaría?")
	assert.NoError(t, err)
	assert.Nil(t, in)
}

func TestExtractAgendarFalseIsNoop(t *testing.T) {
	in, err := newExtractor().Extract(`{"agendar":false}`)
	require.NoError(t, err)
	require.NotNil(t, in)
	assert.False(t, in.Agendar)
}

func TestExtractMalformedJSONIsSilent(t *testing.T) {
	for _, text := range []string{
		`{"agendar":true,"nombre":"Ana",}`,
		`{"agendar":"yes","nombre":"Ana","fecha":"2025-11-18","hora":"10:00"}`,
		`{"nombre":"Ana"}`,
		`texto { sin cerrar`,
	} {
		in, err := newExtractor().Extract(text)
		assert.NoError(t, err, text)
		assert.Nil(t, in, text)
	}
}

func TestExtractMissingRequiredIsRejection(t *testing.T) {
	in, err := newExtractor().Extract(`{"agendar":true,"nombre":"Ana","fecha":"2025-11-18"}`)
	assert.Nil(t, in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValidation))

	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{"hora"}, ve.Fields)
}

func TestExtractMalformedFieldsAreRejection(t *testing.T) {
	_, err := newExtractor().Extract(`{"agendar":true,"nombre":"Ana","fecha":"18/11/2025","hora":"25:00","duracion":0}`)
	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.ElementsMatch(t, []string{"fecha", "hora", "duracion"}, ve.Fields)
}

func TestExtractNonStringFieldIsNamedOnce(t *testing.T) {
	_, err := newExtractor().Extract(`{"agendar":true,"nombre":"Ana","fecha":20251118,"hora":15}`)
	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{"fecha", "hora"}, ve.Fields)
}

func TestExtractAppliesDefaultsAndNormalizes(t *testing.T) {
	in, err := newExtractor().Extract(`{"agendar":true,"nombre":"Ana","fecha":"2025-11-18","hora":"9:00","duracion":"2"}`)
	require.NoError(t, err)
	assert.Equal(t, "09:00", in.Hora)
	assert.Equal(t, 2, in.Duracion)
	assert.Equal(t, "Consultoría Marketing", in.Servicio)
}

func TestFirstObjectSkipsBracesInStrings(t *testing.T) {
	obj, ok := FirstObject(`nota: {"a":"}{","b":{"c":1}} fin`)
	require.True(t, ok)
	assert.Equal(t, `{"a":"}{","b":{"c":1}}`, obj)
}

func TestFirstObjectSkipsNonJSONCandidate(t *testing.T) {
	obj, ok := FirstObject(`usa {nombre} y luego {"agendar":false}`)
	require.True(t, ok)
	assert.Equal(t, `{"agendar":false}`, obj)
}
