package models

// Origin identifies where a request came from.
type Origin struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

// Key is the rate-limit key for the origin.
func (o Origin) Key() string {
	if o.IPAddress == "" {
		return "unknown"
	}
	return o.IPAddress
}
