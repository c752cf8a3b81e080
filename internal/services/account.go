package services

import (
	"encoding/json"
	"regexp"
	"strconv"
)

// Payme operates in tiyin, the minor unit of UZS. 1 soum = 100 tiyin.
const tiyinPerUnit = 100

// ToTiyin converts a major-unit amount to tiyin.
func ToTiyin(major int64) int64 {
	return major * tiyinPerUnit
}

// FromTiyin converts tiyin down to major units, truncating. It never
// rounds up: 199 tiyin is 1 soum.
func FromTiyin(tiyin int64) int64 {
	return tiyin / tiyinPerUnit
}

// accountKeys are the field-name aliases the provider is known to send
// the booking identifier under, checked in order.
var accountKeys = []string{"order_id", "booking_id"}

// bookingToken matches the composite checkout token form
// booking_<id>_<timestamp>.
var bookingToken = regexp.MustCompile(`^booking_(\d+)_\d+$`)

// ExtractBookingID pulls the canonical booking id out of the loosely
// typed account object. Three encodings are accepted: a bare JSON
// number, a numeric string, and the composite booking_<id>_<ts> token.
// Anything else fails with the account-range error so the handler can
// return it to the provider as-is.
func ExtractBookingID(account map[string]interface{}) (int64, *TransactionError) {
	for _, key := range accountKeys {
		raw, ok := account[key]
		if !ok || raw == nil {
			continue
		}
		if id, ok := parseBookingID(raw); ok {
			return id, nil
		}
	}
	return 0, ErrBookingNotFound()
}

func parseBookingID(raw interface{}) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		// encoding/json decodes untyped numbers as float64
		if v != float64(int64(v)) || v <= 0 {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		id, err := v.Int64()
		return id, err == nil && id > 0
	case int64:
		return v, v > 0
	case int:
		return int64(v), v > 0
	case string:
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			return id, true
		}
		if m := bookingToken.FindStringSubmatch(v); m != nil {
			id, err := strconv.ParseInt(m[1], 10, 64)
			return id, err == nil && id > 0
		}
		return 0, false
	default:
		return 0, false
	}
}
