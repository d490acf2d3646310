package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Identifier prefixes persisted with every invoice and payment number.
const (
	InvoicePrefix = "INV-"
	PaymentPrefix = "PAY-"
)

// NextNumber derives the next identifier for a prefix from the highest
// number issued so far. When the previous number's suffix does not parse,
// it falls back to a timestamp-derived value: availability wins over
// strict monotonicity, and external consumers rely on the exact
// `<prefix><ts%1000000:06d>` fallback format.
func NextNumber(prefix, last string, now time.Time) string {
	if last == "" {
		return fmt.Sprintf("%s%06d", prefix, 1)
	}
	suffix := strings.TrimPrefix(last, prefix)
	n, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return fmt.Sprintf("%s%06d", prefix, now.Unix()%1000000)
	}
	return fmt.Sprintf("%s%06d", prefix, n+1)
}
