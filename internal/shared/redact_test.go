package shared

import "testing"

func TestRedact(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"empty", "", ""},
		{"plain", "meeting round 2 finished", "meeting round 2 finished"},
		{"bearer keeps prefix", "Bearer abc123def456ghi789jkl0", "Bearer [REDACTED]"},
		{"gateway token", "gateway_token=0123456789abcdef0123", "gateway_token[REDACTED]"},
		{"telegram token", "token 123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsawq in url", "token [REDACTED] in url"},
		{"anthropic key in output", "use sk-ant-REDACTED now", "use [REDACTED] now"},
		{"short values survive", "api_key=short", "api_key=short"},
	}
	for _, tc := range cases {
		if got := Redact(tc.in); got != tc.want {
			t.Errorf("%s: Redact(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}
	if got := Redact("key is AIzaSyA1234567890abcdefghijklmnopqrstuvwx"); got != "key is [REDACTED]" {
		t.Errorf("google key: %q", got)
	}
}

func TestSensitiveKey(t *testing.T) {
	for key, want := range map[string]bool{
		"GEMINI_API_KEY":   true,
		"gateway_token":    true,
		"Authorization":    true,
		"db_password":      true,
		"notify_chat_id":   false,
		"project_id":       false,
		"":                 false,
		"  TELEGRAM_TOKEN": true,
	} {
		if got := SensitiveKey(key); got != want {
			t.Errorf("SensitiveKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestRedactField(t *testing.T) {
	if got := RedactField("telegram_token", "abc"); got != RedactedPlaceholder {
		t.Fatalf("sensitive key: %q", got)
	}
	if got := RedactField("telegram_token", ""); got != "" {
		t.Fatalf("empty value should stay empty: %q", got)
	}
	if got := RedactField("output", "Bearer abc123def456ghi789jkl0"); got != "Bearer [REDACTED]" {
		t.Fatalf("fragment scrub: %q", got)
	}
	if got := RedactField("title", "Launch beta"); got != "Launch beta" {
		t.Fatalf("plain: %q", got)
	}
}
