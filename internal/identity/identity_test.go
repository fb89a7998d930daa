package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignIDDeterministic(t *testing.T) {
	a := AssignID("com.example.myapp", "App crashes when uploading photo")
	b := AssignID("com.example.myapp", "App crashes when uploading photo")
	require.Equal(t, a, b)
	assert.Len(t, a, IDLength)

	for _, r := range a {
		assert.Contains(t, "0123456789abcdef", string(r))
	}
}

func TestAssignIDKnownValue(t *testing.T) {
	sum := sha256.Sum256([]byte("com.example.myapp:login button not responding"))
	want := hex.EncodeToString(sum[:])[:8]

	assert.Equal(t, want, AssignID("com.example.myapp", "Login button not responding"))
}

func TestAssignIDCaseInsensitiveDescription(t *testing.T) {
	assert.Equal(t,
		AssignID("com.whatsapp", "Login Button Not Responding"),
		AssignID("com.whatsapp", "login button not responding"))
}

func TestAssignIDPackageMatters(t *testing.T) {
	assert.NotEqual(t,
		AssignID("com.whatsapp", "login button not responding"),
		AssignID("com.instagram.android", "login button not responding"))
}

func TestAssignIDOnlyUsesPrefix(t *testing.T) {
	base := strings.Repeat("x", DescriptionPrefix)
	assert.Equal(t,
		AssignID("com.whatsapp", base+" first tail"),
		AssignID("com.whatsapp", base+" second tail"))
	assert.NotEqual(t,
		AssignID("com.whatsapp", base[:DescriptionPrefix-1]+"y"),
		AssignID("com.whatsapp", base))
}

func TestPrefixRuneSafe(t *testing.T) {
	s := strings.Repeat("é", 120)
	p := prefix(s, DescriptionPrefix)
	assert.Equal(t, DescriptionPrefix, len([]rune(p)))
	assert.Equal(t, "abc", prefix("abc", DescriptionPrefix))
}

func TestNormalizeAppName(t *testing.T) {
	tests := map[string]string{
		"my app":        "My App",
		"  WhatsApp  ":  "Whatsapp",
		"WHATSAPP WEB":  "Whatsapp Web",
		"photo-editor":  "Photo-Editor",
		"app2go":        "App2Go",
		"":              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeAppName(in), "NormalizeAppName(%q)", in)
	}
}
