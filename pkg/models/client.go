package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ClientStatus is the lifecycle state of a client record
type ClientStatus string

const (
	ClientStatusActive   ClientStatus = "active"
	ClientStatusInactive ClientStatus = "inactive"
	// ClientStatusRetired marks a client merged away into another record
	ClientStatusRetired ClientStatus = "retired"
)

// BirthDateLayout is the string form used for birth dates in decisions and fixtures
const BirthDateLayout = "2006-01-02"

// Address is the postal address of a client
type Address struct {
	Street     string `json:"street" db:"street" yaml:"street"`
	Number     string `json:"number" db:"number" yaml:"number"`
	Complement string `json:"complement" db:"complement" yaml:"complement"`
	District   string `json:"district" db:"district" yaml:"district"`
	City       string `json:"city" db:"city" yaml:"city"`
	State      string `json:"state" db:"state" yaml:"state"`
	PostalCode string `json:"postal_code" db:"postal_code" yaml:"postal_code"`
}

// Client is a customer record owned by a single brokerage account
type Client struct {
	ID        string       `json:"id" db:"id" yaml:"id"`
	AccountID string       `json:"account_id" db:"account_id" yaml:"account_id"`
	Name      string       `json:"name" db:"name" yaml:"name"`
	Phone     string       `json:"phone" db:"phone" yaml:"phone"`
	Email     string       `json:"email" db:"email" yaml:"email"`
	TaxID     string       `json:"tax_id" db:"tax_id" yaml:"tax_id"`
	BirthDate *time.Time   `json:"birth_date,omitempty" db:"birth_date" yaml:"birth_date"`
	Address   `json:"address" yaml:"address"`
	Notes     string       `json:"notes" db:"notes" yaml:"notes"`
	Status    ClientStatus `json:"status" db:"status" yaml:"status"`
	// MergedInto is the surviving client id once this record is retired
	MergedInto *string    `json:"merged_into,omitempty" db:"merged_into" yaml:"merged_into"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at" yaml:"updated_at"`
	RetiredAt  *time.Time `json:"retired_at,omitempty" db:"retired_at" yaml:"retired_at"`
}

func (c Client) IsRetired() bool {
	return c.Status == ClientStatusRetired
}

// RetiredInto reports whether c was merged away into primaryID.
func (c Client) RetiredInto(primaryID string) bool {
	return c.IsRetired() && c.MergedInto != nil && *c.MergedInto == primaryID
}

// Field is a mergeable client attribute
type Field string

const (
	FieldName       Field = "name"
	FieldPhone      Field = "phone"
	FieldEmail      Field = "email"
	FieldTaxID      Field = "tax_id"
	FieldBirthDate  Field = "birth_date"
	FieldStreet     Field = "street"
	FieldNumber     Field = "number"
	FieldComplement Field = "complement"
	FieldDistrict   Field = "district"
	FieldCity       Field = "city"
	FieldState      Field = "state"
	FieldPostalCode Field = "postal_code"
	FieldNotes      Field = "notes"
	FieldStatus     Field = "status"
)

// MergeableFields lists every mergeable attribute in plan order.
var MergeableFields = []Field{
	FieldName,
	FieldPhone,
	FieldEmail,
	FieldTaxID,
	FieldBirthDate,
	FieldStreet,
	FieldNumber,
	FieldComplement,
	FieldDistrict,
	FieldCity,
	FieldState,
	FieldPostalCode,
	FieldNotes,
	FieldStatus,
}

func (f Field) Valid() bool {
	for _, field := range MergeableFields {
		if f == field {
			return true
		}
	}
	return false
}

// FieldValue returns the string form of a mergeable attribute.
func (c Client) FieldValue(f Field) string {
	switch f {
	case FieldName:
		return c.Name
	case FieldPhone:
		return c.Phone
	case FieldEmail:
		return c.Email
	case FieldTaxID:
		return c.TaxID
	case FieldBirthDate:
		if c.BirthDate == nil {
			return ""
		}
		return c.BirthDate.Format(BirthDateLayout)
	case FieldStreet:
		return c.Street
	case FieldNumber:
		return c.Number
	case FieldComplement:
		return c.Complement
	case FieldDistrict:
		return c.District
	case FieldCity:
		return c.City
	case FieldState:
		return c.State
	case FieldPostalCode:
		return c.PostalCode
	case FieldNotes:
		return c.Notes
	case FieldStatus:
		return string(c.Status)
	}
	return ""
}

// SetFieldValue writes value into the attribute named by f.
func (c *Client) SetFieldValue(f Field, value string) error {
	switch f {
	case FieldName:
		c.Name = value
	case FieldPhone:
		c.Phone = value
	case FieldEmail:
		c.Email = value
	case FieldTaxID:
		c.TaxID = value
	case FieldBirthDate:
		if strings.TrimSpace(value) == "" {
			c.BirthDate = nil
			return nil
		}
		t, err := time.Parse(BirthDateLayout, strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid birth date %q: %w", value, err)
		}
		c.BirthDate = &t
	case FieldStreet:
		c.Street = value
	case FieldNumber:
		c.Number = value
	case FieldComplement:
		c.Complement = value
	case FieldDistrict:
		c.District = value
	case FieldCity:
		c.City = value
	case FieldState:
		c.State = value
	case FieldPostalCode:
		c.PostalCode = value
	case FieldNotes:
		c.Notes = value
	case FieldStatus:
		status := ClientStatus(value)
		if status != ClientStatusActive && status != ClientStatusInactive {
			return fmt.Errorf("status %q cannot be assigned by a merge", value)
		}
		c.Status = status
	default:
		return fmt.Errorf("unknown field %q", f)
	}
	return nil
}

// ErrClientNotFound is returned by stores when a client id is unknown to the account
var ErrClientNotFound = errors.New("client not found")
