package i18n

import "testing"

func TestTranslate(t *testing.T) {
	t.Cleanup(func() { SetLocale("en") })

	SetLocale("en")
	if got := Translate("message not found"); got != "message not found" {
		t.Fatalf("Translate(en) = %q, want passthrough", got)
	}

	SetLocale("FA")
	if got := Translate("message not found"); got != "پیام یافت نشد" {
		t.Fatalf("Translate(fa) = %q", got)
	}
	if got := Translate("failed to parse token: expired"); got != "توکن نامعتبر است" {
		t.Fatalf("Translate(prefix) = %q", got)
	}
	if got := Translate("something unmapped"); got != "something unmapped" {
		t.Fatalf("Translate(unmapped) = %q", got)
	}
}
