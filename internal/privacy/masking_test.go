package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		visible int
		want    string
	}{
		{name: "empty", token: "", visible: 4, want: ""},
		{name: "typical bot token", token: "123456:ABCDEF", visible: 4, want: "*********CDEF"},
		{name: "too short to reveal", token: "abcdef", visible: 4, want: "******"},
		{name: "negative visible", token: "abc", visible: -1, want: "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskToken(tt.token, tt.visible))
		})
	}
}

func TestMaskURLToken(t *testing.T) {
	assert.Equal(t, "https://api.telegram.org/bot***/sendMessage",
		MaskURLToken("https://api.telegram.org/bot123:ABC/sendMessage"))
	assert.Equal(t, "https://api.telegram.org/bot***", MaskURLToken("https://api.telegram.org/bot123:ABC"))
	assert.Equal(t, "https://gateway.local/v1/chats", MaskURLToken("https://gateway.local/v1/chats"))
}

func TestMaskPhoneNumber(t *testing.T) {
	assert.Equal(t, "", MaskPhoneNumber(""))
	assert.Equal(t, "+*******4567", MaskPhoneNumber("+79991234567"))
	assert.Equal(t, "+***", MaskPhoneNumber("+123"))
	assert.Equal(t, "***", MaskPhoneNumber("123"))
	assert.Equal(t, "*****4567", MaskPhoneNumber("799914567"))
}
