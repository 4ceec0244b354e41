package model

import (
	"errors"
	"strings"
	"testing"
)

func validPerson() *Person {
	return &Person{
		Name:       "Ada Lovelace",
		Email:      "ada@example.com",
		ChannelURL: "https://www.youtube.com/@adalovelace",
	}
}

func TestPersonValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Person)
		wantErr bool
	}{
		{"valid", func(p *Person) {}, false},
		{"valid without email", func(p *Person) { p.Email = "" }, false},
		{"empty name", func(p *Person) { p.Name = "" }, true},
		{"surrounding whitespace", func(p *Person) { p.Name = " Ada " }, true},
		{"name too long", func(p *Person) { p.Name = strings.Repeat("a", 256) }, true},
		{"channel id path", func(p *Person) { p.ChannelURL = "https://www.youtube.com/channel/UCabcdefghij" }, false},
		{"legacy c path", func(p *Person) { p.ChannelURL = "https://youtube.com/c/somechannel" }, false},
		{"mobile host", func(p *Person) { p.ChannelURL = "https://m.youtube.com/@handle" }, false},
		{"http scheme", func(p *Person) { p.ChannelURL = "http://www.youtube.com/@handle" }, true},
		{"wrong host", func(p *Person) { p.ChannelURL = "https://example.com/@handle" }, true},
		{"watch url", func(p *Person) { p.ChannelURL = "https://www.youtube.com/watch?v=abc" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validPerson()
			tc.mutate(p)
			err := p.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Fatalf("error should wrap ErrValidation, got %v", err)
			}
		})
	}
}

func TestEmailValidation(t *testing.T) {
	cases := []struct {
		email string
		ok    bool
	}{
		{"user@example.com", true},
		{"user.name+tag@sub.example.co", true},
		{"no-at-sign", false},
		{"two@@example.com", false},
		{"@example.com", false},
		{"user@nodot", false},
		{"user@.example.com", false},
		{"user@example.com.", false},
		{"user..dots@example.com", false},
		{"user name@example.com", false},
	}
	for _, tc := range cases {
		t.Run(tc.email, func(t *testing.T) {
			p := validPerson()
			p.Email = tc.email
			err := p.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected invalid")
			}
		})
	}
}
