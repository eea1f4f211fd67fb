package normalizers

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"only separators", " -- . ", ""},
		{"lowercases", "MARIA SILVA", "maria silva"},
		{"strips diacritics", "João Conceição", "joao conceicao"},
		{"drops particles", "Maria da Silva", "maria silva"},
		{"drops english particles", "The House of Commons", "house commons"},
		{"collapses punctuation", "  Maria,   Silva--Souza ", "maria silva souza"},
		{"unglues fused particle", "MARIA DASILVA", "maria silva"},
		{"unglues plural particle", "Jose Dossantos", "jose santos"},
		{"keeps short remainder", "Ana Dedeu", "ana dedeu"},
		{"single token not unglued", "Dasilva", "dasilva"},
		{"only particles kept", "De La", "de la"},
		{"digits kept", "Loja 25 de Março", "loja 25 marco"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestPhoneNormalizer(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"formatted national mobile", "(11) 98888-7777", "11988887777"},
		{"international mobile", "+55 11 98888-7777", "11988887777"},
		{"international landline", "+55 11 3333-4444", "1133334444"},
		{"national number starting with 55 kept", "55 3333-4444", "5533334444"},
		{"too long remainder kept", "+55 11 98888-77770", "55119888877770"},
		{"other country kept", "+1 (415) 555-0100", "14155550100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DefaultPhone.Normalize(tt.input))
		})
	}

	t.Run("configured country", func(t *testing.T) {
		us := NewPhoneNormalizer("+1", []int{10})
		assert.Equal(t, "4155550100", us.Normalize("+1 (415) 555-0100"))
		assert.Equal(t, "4155550100", us.Normalize("415.555.0100"))
	})

	t.Run("invalid configuration falls back to default", func(t *testing.T) {
		assert.Equal(t, DefaultPhone, NewPhoneNormalizer("", nil))
	})
}

func TestNormalizeTaxIDAndEmail(t *testing.T) {
	assert.Equal(t, "12345678900", NormalizeTaxID("123.456.789-00"))
	assert.Equal(t, "12345678000190", NormalizeTaxID("12.345.678/0001-90"))
	assert.Equal(t, "", NormalizeTaxID("n/a"))

	assert.Equal(t, "maria@example.com", NormalizeEmail("  Maria@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestNormalizersAreIdempotent(t *testing.T) {
	inputs := []string{
		"", "Maria Da Silva", "MARIA DASILVA", "Jose Dossantos", "Ana Dadomingos",
		"Ístanbul Çelik", "De La", "+55 11 98888-7777", "123.456.789-00",
		" Foo@Bar.com ", "dadella rossi", "Maria Dadella",
	}
	fns := map[string]Normalizer{
		"name":  NormalizeName,
		"phone": NormalizePhone,
		"tax":   NormalizeTaxID,
		"email": NormalizeEmail,
	}

	for kind, fn := range fns {
		for _, input := range inputs {
			once := fn(input)
			assert.Equal(t, once, fn(once), "%s normalizer not idempotent for %q", kind, input)
		}
	}
}

func TestFold(t *testing.T) {
	assert.Equal(t, "rua a", Fold("  Rua A "))
	assert.Equal(t, "", Fold("   "))
}

func TestRegistry(t *testing.T) {
	t.Run("built-ins registered", func(t *testing.T) {
		for _, name := range []string{"lowercase", "trim", "fold", "digits_only", "strip_diacritics", "nname", "nphone", "nemail", "ntax_id"} {
			_, ok := Get(name)
			assert.True(t, ok, "missing normalizer %s", name)
		}
	})

	t.Run("apply", func(t *testing.T) {
		assert.Equal(t, "12345678900", Apply("123.456.789-00", "ntax_id"))
		assert.Equal(t, "Sao Paulo", Apply("São Paulo", "strip_diacritics"))
	})

	t.Run("unknown name passes through", func(t *testing.T) {
		assert.Equal(t, " Keep Me ", Apply(" Keep Me ", "no_such_normalizer"))
	})

	t.Run("chain runs in order", func(t *testing.T) {
		assert.Equal(t, "sao paulo", ApplyChain("  São Paulo ", "strip_diacritics", "fold"))
		assert.Equal(t, "São Paulo", ApplyChain("  São Paulo ", "trim"))
	})

	t.Run("register custom", func(t *testing.T) {
		Register("test_upper", strings.ToUpper)
		t.Cleanup(func() { delete(registry, "test_upper") })

		fn, ok := Get("test_upper")
		require.True(t, ok)
		assert.Equal(t, "ABC", fn("abc"))
		assert.Equal(t, "ABC", ApplyChain(" abc ", "trim", "test_upper"))
	})
}

func TestClientNormalizer(t *testing.T) {
	birth := time.Date(1985, 3, 14, 0, 0, 0, 0, time.UTC)
	client := models.Client{
		ID:        "c1",
		Name:      "Maria Da Silva",
		Phone:     "+55 11 98888-7777",
		Email:     " MARIA@EXAMPLE.COM",
		TaxID:     "123.456.789-00",
		BirthDate: &birth,
	}

	n := NormalizeClient(client)
	assert.Equal(t, NormalizedClient{
		ID:        "c1",
		Name:      "maria silva",
		Phone:     "11988887777",
		Email:     "maria@example.com",
		TaxID:     "12345678900",
		BirthDate: "1985-03-14",
	}, n)

	cn := NewClientNormalizer(DefaultPhone)
	assert.Equal(t, "sao paulo", cn.NormalizeField(models.FieldCity, "  Sao Paulo "))
	assert.Equal(t, "11988887777", cn.NormalizeField(models.FieldPhone, "+55 (11) 98888-7777"))
	assert.Equal(t, "maria silva", cn.NormalizeField(models.FieldName, "MARIA DASILVA"))
	assert.Equal(t, "12345678900", cn.NormalizeField(models.FieldTaxID, "123.456.789-00"))

	us := NewClientNormalizer(NewPhoneNormalizer("+1", []int{10}))
	assert.Equal(t, "4155550100", us.NormalizeField(models.FieldPhone, "+1 (415) 555-0100"))
}
