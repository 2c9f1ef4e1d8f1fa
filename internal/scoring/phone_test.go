package scoring

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"01712345678":       "+1712345678",
		"+880 171-234-5678": "+8801712345678",
		"":                  "",
		"  ()-  ":           "",
		"8801700000000":     "+8801700000000",
		"+8801700000000":    "+8801700000000",
		"tel: 00 44 20":     "+4420",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizePhoneIsIdempotent(t *testing.T) {
	inputs := []string{
		"01712345678",
		"+880 171-234-5678",
		"",
		"000",
		"+",
		"12+34",
		"+0012",
		"abc",
		"(017) 1234 5678 ext. 9",
	}
	for _, in := range inputs {
		once := NormalizePhone(in)
		if twice := NormalizePhone(once); twice != once {
			t.Fatalf("normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestValidPhone(t *testing.T) {
	if ValidPhone("") {
		t.Fatal("empty phone should be invalid")
	}
	if ValidPhone("+") {
		t.Fatal("bare plus should be invalid")
	}
	if !ValidPhone("+8801700000000") {
		t.Fatal("expected normalized phone to be valid")
	}
	if ValidPhone(NormalizePhone("0171+2345")) {
		t.Fatal("interior plus should be invalid")
	}
	if ValidPhone("++8801700000000") {
		t.Fatal("doubled plus should be invalid")
	}
}
