package domains

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/relaykit/relay/internal/models"
)

type fakeResolver struct {
	txt map[string][]string
	mx  map[string][]*net.MX
	err error
}

func (f *fakeResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.txt[name], nil
}

func (f *fakeResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.mx[name], nil
}

func testDomain() *models.Domain {
	return &models.Domain{
		ID:                "dom-1",
		AccountID:         "acct-1",
		Name:              "acme.example.com",
		VerificationToken: "tok-123",
		Status:            models.DomainStatusPending,
	}
}

func TestCheckTXT(t *testing.T) {
	tests := []struct {
		name    string
		records []string
		want    bool
	}{
		{"match", []string{"relay-verify=tok-123"}, true},
		{"match among others", []string{"v=spf1 -all", " relay-verify=tok-123 "}, true},
		{"wrong token", []string{"relay-verify=tok-999"}, false},
		{"no records", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &Service{resolver: &fakeResolver{
				txt: map[string][]string{"acme.example.com": tt.records},
			}}
			if got := svc.checkTXT(context.Background(), testDomain()); got != tt.want {
				t.Errorf("checkTXT = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckTXTLookupError(t *testing.T) {
	svc := &Service{resolver: &fakeResolver{err: errors.New("dns timeout")}}
	if svc.checkTXT(context.Background(), testDomain()) {
		t.Error("Expected lookup error to fail the check")
	}
}

func TestCheckMX(t *testing.T) {
	tests := []struct {
		name    string
		records []*net.MX
		want    bool
	}{
		{"match", []*net.MX{{Host: "mx.relaymail.dev.", Pref: 10}}, true},
		{"case and dot insensitive", []*net.MX{{Host: "MX.RelayMail.dev", Pref: 10}}, true},
		{"among others", []*net.MX{{Host: "backup.example.net.", Pref: 20}, {Host: "mx.relaymail.dev.", Pref: 10}}, true},
		{"wrong host", []*net.MX{{Host: "mx.other.dev.", Pref: 10}}, false},
		{"no records", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &Service{
				resolver: &fakeResolver{mx: map[string][]*net.MX{"acme.example.com": tt.records}},
				mxHost:   normalizeHost("mx.relaymail.dev"),
			}
			if got := svc.checkMX(context.Background(), testDomain()); got != tt.want {
				t.Errorf("checkMX = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDomainNamePattern(t *testing.T) {
	valid := []string{"example.com", "acme.example.co.uk", "a-b.example.com", "1234.example.com"}
	invalid := []string{"", "example", "-bad.example.com", "bad-.example.com", "exa mple.com", ".example.com"}

	for _, name := range valid {
		if !domainNamePattern.MatchString(name) {
			t.Errorf("Expected %q to be valid", name)
		}
	}
	for _, name := range invalid {
		if domainNamePattern.MatchString(name) {
			t.Errorf("Expected %q to be invalid", name)
		}
	}
}
