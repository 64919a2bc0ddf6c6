package model

// Account holds the credentials of one broker account.
type Account struct {
	Username   string `json:"username" mapstructure:"username"`
	ClientID   string `json:"client_id" mapstructure:"client_id"`
	PIN        string `json:"pin" mapstructure:"pin"`
	APIKey     string `json:"api_key" mapstructure:"api_key"`
	TOTPSecret string `json:"totp" mapstructure:"totp"`
}

// Namespace returns the key prefix used for this account's cached instruments.
func (a Account) Namespace() string {
	return a.Username
}
