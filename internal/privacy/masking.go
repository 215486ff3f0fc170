package privacy

import (
	"strings"
)

// MaskToken hides a credential leaving the last few characters for correlation.
// Example: "123456:ABCDEF" -> "*********CDEF"
func MaskToken(token string, visible int) string {
	if token == "" {
		return ""
	}
	if visible < 0 {
		visible = 0
	}
	if len(token) <= visible*2 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", len(token)-visible) + token[len(token)-visible:]
}

// MaskURLToken strips a bot token embedded in a Telegram API URL path.
// Example: "https://api.telegram.org/bot123:ABC/sendMessage" -> "https://api.telegram.org/bot***/sendMessage"
func MaskURLToken(rawURL string) string {
	idx := strings.Index(rawURL, "/bot")
	if idx < 0 {
		return rawURL
	}
	rest := rawURL[idx+len("/bot"):]
	end := strings.Index(rest, "/")
	if end < 0 {
		return rawURL[:idx] + "/bot***"
	}
	return rawURL[:idx] + "/bot***" + rest[end:]
}

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+79991234567" -> "+*******4567"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}
	if strings.HasPrefix(phone, "+") {
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
