package security

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeText_PlainValuesUnchanged(t *testing.T) {
	s := NewProfileSanitizer()

	for _, in := range []string{"Ann", "ann@x.com", "山田 花子", "Zoë"} {
		if got := s.SanitizeText(in); got != in {
			t.Errorf("SanitizeText(%q) = %q, want unchanged", in, got)
		}
	}
}

func TestSanitizeText_StripsMarkup(t *testing.T) {
	s := NewProfileSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"script", `Ann<script>alert(1)</script>`, "Ann"},
		{"bold", `<b>Ann</b>`, "Ann"},
		{"img onerror", `<img src=x onerror=alert(1)>Ann`, "Ann"},
		{"surrounding whitespace", "  Ann \n", "Ann"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.SanitizeText(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if strings.Contains(got, "<") {
				t.Errorf("output still contains markup: %q", got)
			}
		})
	}
}

func TestSanitizeText_KeepsPunctuationUnescaped(t *testing.T) {
	s := NewProfileSanitizer()

	for _, in := range []string{`Ann O'Brien`, "Tom & Jerry", `Zoë "Z"`, "a < b", "AT&T"} {
		if got := s.SanitizeText(in); got != in {
			t.Errorf("SanitizeText(%q) = %q, want unchanged", in, got)
		}
	}
}

func TestSanitizeText_EntityEncodedMarkup(t *testing.T) {
	got := NewProfileSanitizer().SanitizeText("&lt;b&gt;Ann&lt;/b&gt;")

	if got != "Ann" {
		t.Errorf("SanitizeText = %q, want Ann", got)
	}
}

func TestSanitizeEmail(t *testing.T) {
	s := NewProfileSanitizer()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "ann@x.com", "ann@x.com", false},
		{"quote and ampersand", `o'brien&co@x.com`, `o'brien&co@x.com`, false},
		{"quoted local part", `"ann smith"@x.com`, `"ann smith"@x.com`, false},
		{"whitespace", " ann@x.com\n", "ann@x.com", false},
		{"at limit", strings.Repeat("a", maxProfileFieldLength-6) + "@x.com", strings.Repeat("a", maxProfileFieldLength-6) + "@x.com", false},
		{"over limit", strings.Repeat("a", maxProfileFieldLength) + "@x.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.SanitizeEmail(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrProfileFieldTooLong) {
					t.Errorf("SanitizeEmail error = %v, want ErrProfileFieldTooLong", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SanitizeEmail returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("SanitizeEmail(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeText_EmptyInput(t *testing.T) {
	if got := NewProfileSanitizer().SanitizeText(""); got != "" {
		t.Errorf("SanitizeText(\"\") = %q, want empty", got)
	}
}

func TestSanitizeText_Truncates(t *testing.T) {
	long := strings.Repeat("あ", maxProfileFieldLength+10)

	got := NewProfileSanitizer().SanitizeText(long)
	if n := utf8.RuneCountInString(got); n != maxProfileFieldLength {
		t.Errorf("rune count = %d, want %d", n, maxProfileFieldLength)
	}
}

func TestSanitizeText_Idempotent(t *testing.T) {
	s := NewProfileSanitizer()
	in := `<i>Ann</i> Smith`

	first := s.SanitizeText(in)
	if second := s.SanitizeText(first); second != first {
		t.Errorf("not idempotent: %q -> %q", first, second)
	}
}

func TestProfileSanitizerInterface(t *testing.T) {
	var _ ProfileSanitizer = NewProfileSanitizer()
}
