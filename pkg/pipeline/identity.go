package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
)

// IdentityDigest derives the dedup key for one priced product from its
// immutable provider attributes. Mutable attributes (price, shape, dates)
// are deliberately excluded: a price change must map to the same digest so
// it supersedes the previous record instead of creating a new product.
func IdentityDigest(row *models.RawPriceObservation) string {
	h := sha256.New()
	parts := []string{
		strings.ToLower(row.Provider),
		row.ServiceCode,
		row.Region,
		row.InstanceType,
		row.TermType,
		row.LeaseLength,
		row.PurchaseOption,
		row.UnitRaw,
	}
	for i, part := range parts {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
