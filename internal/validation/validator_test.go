package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type profileInput struct {
	Username string `json:"username" validate:"required,username"`
	Bio      string `json:"bio" validate:"max=10"`
	Avatar   string `json:"avatar_url" validate:"omitempty,https_url"`
	Platform string `json:"platform" validate:"omitempty,oneof=web android ios"`
}

func TestStruct(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      profileInput
		wantMsg string
	}{
		{"valid", profileInput{Username: "ok_name", Avatar: "https://cdn.example.com/a.png"}, ""},
		{"missing username", profileInput{}, "username is required"},
		{"bad username", profileInput{Username: "a-b"}, "username must be 3-30 characters of letters, numbers and underscores"},
		{"bio too long", profileInput{Username: "ok_name", Bio: "01234567890"}, "bio must be at most 10 characters"},
		{"http avatar", profileInput{Username: "ok_name", Avatar: "http://x.com/a.png"}, "avatar_url must be an https URL"},
		{"bad platform", profileInput{Username: "ok_name", Platform: "palm"}, "platform must be one of: web android ios"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.in)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantMsg)
		})
	}
}

func TestIsHTTPSURL(t *testing.T) {
	assert.True(t, IsHTTPSURL("https://media.tenor.com/x.gif"))
	assert.False(t, IsHTTPSURL("http://media.tenor.com/x.gif"))
	assert.False(t, IsHTTPSURL("javascript:alert(1)"))
	assert.False(t, IsHTTPSURL("https:///nohost"))
}
