// Package locale holds the user-visible fallback strings.
package locale

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/language"
)

// Message keys used across the desk.
const (
	LoginFailed       = "auth.login_failed"
	NoToken           = "auth.no_token"
	SessionExpired    = "auth.session_expired"
	NotAuthenticated  = "auth.not_authenticated"
	SignedOut         = "auth.signed_out"
	RegisterDone      = "auth.register_done"
	ServerError       = "server.error"
	ServerUnreachable = "server.unreachable"
	InvalidInput      = "input.invalid"
	DefaultRoom       = "chat.default_room"
	HistoryFailed     = "chat.history_failed"
	ChannelDegraded   = "chat.channel_degraded"
	SendFailed        = "chat.send_failed"
	RateLimited       = "chat.rate_limited"
	ChatEmpty         = "chat.empty"
	ChatListEmpty     = "chat.list_empty"
	ServicesEmpty     = "services.empty"
	OfferInvalid      = "services.offer_invalid"
	OfferSent         = "services.offer_sent"
	ServiceFinalized  = "services.finalized"
	PasswordChanged   = "account.password_changed"
	ProfileUpdated    = "account.profile_updated"
)

//go:embed catalogs/*.json
var catalogFS embed.FS

// Supported lists the bundled languages, default first.
var Supported = []language.Tag{
	language.MustParse("pt-BR"),
	language.English,
}

var matcher = language.NewMatcher(Supported)

// Catalog resolves keys for one language, falling back to the default.
type Catalog struct {
	tag      language.Tag
	messages map[string]string
	fallback map[string]string
}

// New returns the catalog best matching the given language preferences,
// e.g. "en-US" or an Accept-Language header value. Unknown or empty
// preferences select pt-BR.
func New(preference string) (*Catalog, error) {
	tags, _, err := language.ParseAcceptLanguage(preference)
	if err != nil || len(tags) == 0 {
		tags = []language.Tag{Supported[0]}
	}
	_, index, _ := matcher.Match(tags...)
	tag := Supported[index]

	fallback, err := loadCatalog(Supported[0])
	if err != nil {
		return nil, err
	}
	messages := fallback
	if index != 0 {
		messages, err = loadCatalog(tag)
		if err != nil {
			return nil, err
		}
	}
	return &Catalog{tag: tag, messages: messages, fallback: fallback}, nil
}

// MustNew is New for package-level defaults; the catalogs are embedded so
// it only fails on a broken build.
func MustNew(preference string) *Catalog {
	c, err := New(preference)
	if err != nil {
		panic(err)
	}
	return c
}

func loadCatalog(tag language.Tag) (map[string]string, error) {
	data, err := catalogFS.ReadFile(path.Join("catalogs", tag.String()+".json"))
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", tag, err)
	}
	var messages map[string]string
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", tag, err)
	}
	return messages, nil
}

// Tag returns the selected language.
func (c *Catalog) Tag() language.Tag { return c.tag }

// Lookup returns the string for key. Missing keys fall back to the default
// language and finally to the key itself.
func (c *Catalog) Lookup(key string) string {
	if c == nil {
		return key
	}
	if s := strings.TrimSpace(c.messages[key]); s != "" {
		return s
	}
	if s := strings.TrimSpace(c.fallback[key]); s != "" {
		return s
	}
	return key
}

// Or returns msg when it is non-empty, otherwise the catalog string for key.
// Server-provided text always wins over a fallback.
func (c *Catalog) Or(msg, key string) string {
	if s := strings.TrimSpace(msg); s != "" {
		return s
	}
	return c.Lookup(key)
}
