package utils

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"plain date", "2026-08-27", time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC), false},
		{"rfc3339 truncated", "2026-08-27T15:04:05Z", time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC), false},
		{"rfc3339 with offset", "2026-08-27T23:30:00+02:00", time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC), false},
		{"whitespace", "  2026-08-27 ", time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC), false},
		{"garbage", "27/08/2026", time.Time{}, true},
		{"empty", "", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"350", "350", false},
		{"350.50", "350.5", false},
		{" 12.3 ", "12.3", false},
		{"", "", true},
		{"abc", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDecimal(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDecimal(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got.String() != tt.want {
				t.Errorf("ParseDecimal(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]string{"a", "b", "a", "c", "b"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("UniqueSlice = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("UniqueSlice[%d] = %s, want %s (first-seen order)", i, got[i], want[i])
		}
	}
}

func TestNilIfEmpty(t *testing.T) {
	if NilIfEmpty("") != nil {
		t.Error("NilIfEmpty(\"\") != nil")
	}
	if p := NilIfEmpty("x"); p == nil || *p != "x" {
		t.Errorf("NilIfEmpty(\"x\") = %v", p)
	}
}

func TestDereferencePtr(t *testing.T) {
	v := "hello"
	if got := DereferencePtr(&v); got != "hello" {
		t.Errorf("DereferencePtr = %q", got)
	}
	if got := DereferencePtr[string](nil); got != "" {
		t.Errorf("DereferencePtr(nil) = %q, want zero value", got)
	}
	if got := DereferencePtr[string](nil, "fallback"); got != "fallback" {
		t.Errorf("DereferencePtr(nil, default) = %q", got)
	}
}
