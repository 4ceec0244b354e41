package extractor

import (
	"errors"
	"testing"

	"github.com/onnwee/channel-harvest/recovery"
)

func TestNormalizeChannelURL(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://www.youtube.com/@handle", "https://www.youtube.com/@handle", false},
		{"https://youtube.com/@handle", "https://www.youtube.com/@handle", false},
		{"https://m.youtube.com/@handle/", "https://www.youtube.com/@handle", false},
		{"https://www.youtube.com/channel/UCabcdefghij", "https://www.youtube.com/channel/UCabcdefghij", false},
		{"https://www.youtube.com/c/SomeName", "https://www.youtube.com/c/SomeName", false},
		{"https://www.youtube.com/user/legacy", "https://www.youtube.com/user/legacy", false},
		{" https://www.youtube.com/@handle ", "https://www.youtube.com/@handle", false},
		{"http://www.youtube.com/@handle", "", true},
		{"https://vimeo.com/@handle", "", true},
		{"https://www.youtube.com/watch?v=abcdefghijk", "", true},
		{"https://www.youtube.com/channel/short", "", true},
		{"https://www.youtube.com/@", "", true},
		{"https://www.youtube.com/", "", true},
		{"not a url", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := NormalizeChannelURL(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				var re *recovery.Error
				if !errors.As(err, &re) || re.Kind != recovery.KindValidation {
					t.Fatalf("expected validation kind, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestChannelIDFromURL(t *testing.T) {
	if id := channelIDFromURL("https://www.youtube.com/channel/UCabcdefghij"); id != "UCabcdefghij" {
		t.Fatalf("got %q", id)
	}
	if id := channelIDFromURL("https://www.youtube.com/@handle"); id != "@handle" {
		t.Fatalf("got %q", id)
	}
	if id := channelIDFromURL("https://www.youtube.com/c/name"); id != "" {
		t.Fatalf("c/ URLs carry no derivable id, got %q", id)
	}
}
