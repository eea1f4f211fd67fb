package normalizers

import "github.com/Ramsey-B/clover/pkg/models"

// NormalizedClient holds the comparable forms of a client's identifiers
type NormalizedClient struct {
	ID        string
	Name      string
	Phone     string
	Email     string
	TaxID     string
	BirthDate string
}

// fieldChains names the registered normalizers applied to each attribute.
// Phone is absent: it uses the configured PhoneNormalizer.
var fieldChains = map[models.Field][]string{
	models.FieldName:  {"nname"},
	models.FieldEmail: {"nemail"},
	models.FieldTaxID: {"ntax_id"},
}

var defaultChain = []string{"fold"}

// ClientNormalizer normalizes whole client records
type ClientNormalizer struct {
	Phone PhoneNormalizer
}

func NewClientNormalizer(phone PhoneNormalizer) *ClientNormalizer {
	return &ClientNormalizer{Phone: phone}
}

func (n *ClientNormalizer) Normalize(c models.Client) NormalizedClient {
	return NormalizedClient{
		ID:        c.ID,
		Name:      n.NormalizeField(models.FieldName, c.Name),
		Phone:     n.NormalizeField(models.FieldPhone, c.Phone),
		Email:     n.NormalizeField(models.FieldEmail, c.Email),
		TaxID:     n.NormalizeField(models.FieldTaxID, c.TaxID),
		BirthDate: c.FieldValue(models.FieldBirthDate),
	}
}

// NormalizeField returns the comparable form of one attribute value.
// Attributes without a registered chain are trimmed and lower-cased.
func (n *ClientNormalizer) NormalizeField(field models.Field, value string) string {
	if field == models.FieldPhone {
		return n.Phone.Normalize(value)
	}
	chain, ok := fieldChains[field]
	if !ok {
		chain = defaultChain
	}
	return ApplyChain(value, chain...)
}

// NormalizeClient normalizes with the default phone rules.
func NormalizeClient(c models.Client) NormalizedClient {
	return NewClientNormalizer(DefaultPhone).Normalize(c)
}
