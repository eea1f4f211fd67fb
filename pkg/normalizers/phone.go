package normalizers

import "github.com/Gobusters/ectolinq"

// PhoneNormalizer reduces phone numbers to their national digits for one
// country. Numbers from other countries are left as plain digits.
type PhoneNormalizer struct {
	CountryCode     string
	NationalLengths []int
}

// DefaultPhone normalizes Brazilian numbers: country code 55, 10 or 11 national digits.
var DefaultPhone = PhoneNormalizer{CountryCode: "55", NationalLengths: []int{10, 11}}

func NewPhoneNormalizer(countryCode string, nationalLengths []int) PhoneNormalizer {
	countryCode = DigitsOnly(countryCode)
	if countryCode == "" || len(nationalLengths) == 0 {
		return DefaultPhone
	}
	return PhoneNormalizer{CountryCode: countryCode, NationalLengths: nationalLengths}
}

func (p PhoneNormalizer) maxNationalLength() int {
	longest := 0
	for _, l := range p.NationalLengths {
		if l > longest {
			longest = l
		}
	}
	return longest
}

// Normalize strips everything but digits and drops the country code when the
// number is longer than any national number and the rest is a national number.
func (p PhoneNormalizer) Normalize(s string) string {
	digits := DigitsOnly(s)
	cc := p.CountryCode
	if cc == "" || len(digits) <= p.maxNationalLength() || len(digits) <= len(cc) {
		return digits
	}
	if digits[:len(cc)] != cc {
		return digits
	}
	national := digits[len(cc):]
	if !ectolinq.Contains(p.NationalLengths, len(national)) {
		return digits
	}
	return national
}

// NormalizePhone normalizes with DefaultPhone
func NormalizePhone(s string) string {
	return DefaultPhone.Normalize(s)
}
