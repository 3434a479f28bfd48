package domain

// ServiceItem is a service request as returned by the backend.
// The payload shape varies between endpoints, so it is kept loosely typed.
type ServiceItem map[string]any

// ID returns the service request id.
func (s ServiceItem) ID() string {
	for _, k := range []string{"regID", "id"} {
		if v := stringValue(s[k]); v != "" {
			return v
		}
	}
	return ""
}

// Status returns the request status, if present.
func (s ServiceItem) Status() string {
	for _, k := range []string{"regStatus", "status"} {
		if v := stringValue(s[k]); v != "" {
			return v
		}
	}
	return ""
}

// Offer is a price proposal for a service request.
type Offer struct {
	ServiceID string  `json:"-"`
	Value     float64 `json:"valor"`
}

// Credentials authenticate with login and password.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"senha"`
}

// ServiceCode authenticates with a one-off service code.
type ServiceCode struct {
	Code string `json:"codigoServico"`
}

// PasswordChange is the payload for a password update.
type PasswordChange struct {
	Email           string `json:"email"`
	Role            string `json:"role"`
	CurrentPassword string `json:"senhaAtual"`
	NewPassword     string `json:"novaSenha"`
}
