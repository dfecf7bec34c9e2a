package messaging

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "AR"

// channelPrefixes are transport tags providers put in front of the number.
var channelPrefixes = []string{"whatsapp:", "sms:"}

// NormalizePhone formats a phone number to E.164 for the given region.
// If parsing fails, it returns the trimmed input without the channel prefix.
func NormalizePhone(value, region string) string {
	value = strings.TrimSpace(value)
	lower := strings.ToLower(value)
	for _, prefix := range channelPrefixes {
		if strings.HasPrefix(lower, prefix) {
			value = strings.TrimSpace(value[len(prefix):])
			break
		}
	}
	if value == "" {
		return ""
	}
	if region == "" {
		region = DefaultRegion
	}

	number, err := phonenumbers.Parse(value, region)
	if err != nil {
		return value
	}
	if !phonenumbers.IsValidNumber(number) {
		return value
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}
