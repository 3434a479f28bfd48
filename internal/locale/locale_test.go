package locale

import (
	"encoding/json"
	"testing"

	"golang.org/x/text/language"
)

func TestNewMatchesPreference(t *testing.T) {
	tests := []struct {
		pref string
		want language.Tag
	}{
		{"", language.MustParse("pt-BR")},
		{"pt", language.MustParse("pt-BR")},
		{"en-US", language.English},
		{"fr-FR, en;q=0.8", language.English},
		{"de", language.MustParse("pt-BR")},
		{"!!not a tag", language.MustParse("pt-BR")},
	}
	for _, tt := range tests {
		c, err := New(tt.pref)
		if err != nil {
			t.Fatalf("New(%q) error = %v", tt.pref, err)
		}
		if c.Tag().String() != tt.want.String() {
			t.Errorf("New(%q).Tag() = %v, want %v", tt.pref, c.Tag(), tt.want)
		}
	}
}

func TestLookupFallbacks(t *testing.T) {
	en := MustNew("en")
	if got := en.Lookup(SendFailed); got != "Could not send the message." {
		t.Errorf("Lookup(SendFailed) = %q", got)
	}
	if got := en.Lookup("no.such.key"); got != "no.such.key" {
		t.Errorf("missing key = %q, want the key itself", got)
	}

	var nilCatalog *Catalog
	if got := nilCatalog.Lookup(ServerError); got != ServerError {
		t.Errorf("nil catalog Lookup = %q", got)
	}
}

func TestOrPrefersServerText(t *testing.T) {
	c := MustNew("pt-BR")
	if got := c.Or("Senha incorreta", LoginFailed); got != "Senha incorreta" {
		t.Errorf("Or() = %q", got)
	}
	if got := c.Or("  ", LoginFailed); got != c.Lookup(LoginFailed) {
		t.Errorf("Or(blank) = %q", got)
	}
}

func TestCatalogsShareKeys(t *testing.T) {
	catalogs := make(map[string]map[string]string)
	for _, tag := range Supported {
		data, err := catalogFS.ReadFile("catalogs/" + tag.String() + ".json")
		if err != nil {
			t.Fatalf("read %s: %v", tag, err)
		}
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("parse %s: %v", tag, err)
		}
		catalogs[tag.String()] = m
	}
	base := catalogs[Supported[0].String()]
	for name, m := range catalogs {
		for key := range base {
			if m[key] == "" {
				t.Errorf("catalog %s is missing %q", name, key)
			}
		}
	}
}
