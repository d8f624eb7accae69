package profanity

import "testing"

func TestIsProfaneCaseInsensitiveSubstring(t *testing.T) {
	f := New()
	if !f.IsProfane("xXShitLordXx") {
		t.Fatalf("expected embedded profanity to be detected")
	}
	if f.IsProfane("CleanNickname") {
		t.Fatalf("expected clean nickname to pass")
	}
}

func TestWithWordsOverridesDefault(t *testing.T) {
	f := WithWords([]string{"banned"})
	if f.IsProfane("damnit") {
		t.Fatalf("expected custom list to not include default words")
	}
	if !f.IsProfane("TotallyBannedName") {
		t.Fatalf("expected custom blocklist word to match")
	}
}
