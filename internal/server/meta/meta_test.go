package meta

import "testing"

const (
	chromeLinuxUA    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	safariIPhoneUA   = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	firefoxWindowsUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0"
	googlebotUA      = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func TestResolver_Derive_UserAgent(t *testing.T) {
	resolver, err := NewResolver("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resolver.Close()

	tests := []struct {
		name       string
		ua         string
		os         string
		deviceType string
		browser    string
	}{
		{"chrome on linux desktop", chromeLinuxUA, "Linux", "PC", "Chrome"},
		{"safari on iphone", safariIPhoneUA, "iOS", "Mobile", "Safari"},
		{"firefox on windows", firefoxWindowsUA, "Windows", "PC", "Firefox"},
		{"googlebot", googlebotUA, "", "Bot", "Googlebot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := resolver.Derive(Request{UserAgent: tt.ua})
			if m.OS != tt.os {
				t.Errorf("OS = %q, want %q", m.OS, tt.os)
			}
			if m.DeviceType != tt.deviceType {
				t.Errorf("DeviceType = %q, want %q", m.DeviceType, tt.deviceType)
			}
			if m.Browser != tt.browser {
				t.Errorf("Browser = %q, want %q", m.Browser, tt.browser)
			}
		})
	}
}

func TestResolver_Derive_UnknownAgent(t *testing.T) {
	resolver, err := NewResolver("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resolver.Close()

	m := resolver.Derive(Request{UserAgent: ""})
	if m.OS != "" || m.Browser != "" {
		t.Errorf("expected empty fields for empty user agent, got %+v", m)
	}
}

func TestResolver_Derive_CountryHeaderFallback(t *testing.T) {
	resolver, err := NewResolver("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resolver.Close()

	t.Run("uses edge country header without geoip db", func(t *testing.T) {
		m := resolver.Derive(Request{UserAgent: chromeLinuxUA, CountryHeader: "de"})
		if m.Country != "DE" {
			t.Errorf("Country = %q, want DE", m.Country)
		}
		if m.Region != "" || m.City != "" {
			t.Errorf("expected no region/city from header fallback, got %+v", m)
		}
	})

	t.Run("missing header leaves geo empty", func(t *testing.T) {
		m := resolver.Derive(Request{UserAgent: chromeLinuxUA, RemoteIP: "203.0.113.7"})
		if m.Country != "" || m.Region != "" || m.City != "" {
			t.Errorf("expected empty geolocation, got %+v", m)
		}
	})
}

func TestNewResolver_BadDatabasePath(t *testing.T) {
	if _, err := NewResolver("/nonexistent/geoip.mmdb"); err == nil {
		t.Error("expected error for missing geoip database")
	}
}
