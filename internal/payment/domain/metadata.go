package domain

import (
	"strings"

	"github.com/google/uuid"
)

// Metadata keys written by the checkout session builder and read back from
// gateway events.
const (
	MetadataUserID      = "user_id"
	MetadataAffiliateID = "affiliate_id"
	MetadataProductID   = "product_id"
	MetadataProductType = "product_type"
	MetadataPlanID      = "plan_id"
	MetadataInterval    = "interval"
	MetadataSaleID      = "sale_id"
)

type Metadata map[string]string

func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[key])
}

// Require returns the value under key or a MissingMetadataError.
func (m Metadata) Require(key string) (string, error) {
	value := m.Get(key)
	if value == "" {
		return "", &MissingMetadataError{Key: key}
	}
	return value, nil
}

// UserID returns the buyer id, which must be a uuid.
func (m Metadata) UserID() (string, error) {
	value, err := m.Require(MetadataUserID)
	if err != nil {
		return "", err
	}
	parsed, err := uuid.Parse(value)
	if err != nil {
		return "", &InvalidMetadataError{Key: MetadataUserID, Value: value}
	}
	return parsed.String(), nil
}

// AffiliateID returns nil when the sale was not attributed.
func (m Metadata) AffiliateID() (*string, error) {
	value := m.Get(MetadataAffiliateID)
	if value == "" {
		return nil, nil
	}
	parsed, err := uuid.Parse(value)
	if err != nil {
		return nil, &InvalidMetadataError{Key: MetadataAffiliateID, Value: value}
	}
	id := parsed.String()
	return &id, nil
}

func (m Metadata) Optional(key string) *string {
	value := m.Get(key)
	if value == "" {
		return nil
	}
	return &value
}

// Merge returns a copy of m with the keys of other that m lacks.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range other {
		if strings.TrimSpace(v) != "" {
			out[k] = v
		}
	}
	for k, v := range m {
		if strings.TrimSpace(v) != "" {
			out[k] = v
		}
	}
	return out
}
