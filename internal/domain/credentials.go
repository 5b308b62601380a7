package domain

// Default values filled in when a credential set omits them.
const (
	DefaultEndpoint = "ovh-eu"
	DefaultIAM      = "go-ovh-ie"
	DefaultZone     = "IE"
)

// Credentials is the legacy, non-multi-account OVH credential set. It is the
// set the primary authenticated-session flag is derived from.
type Credentials struct {
	AppKey      string `json:"appKey"`
	AppSecret   string `json:"appSecret"`
	ConsumerKey string `json:"consumerKey"`
	Endpoint    string `json:"endpoint"`
	IAM         string `json:"iam"`
	Zone        string `json:"zone"`
}

// WithDefaults returns a copy with empty region fields replaced by defaults.
func (c Credentials) WithDefaults() Credentials {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.IAM == "" {
		c.IAM = DefaultIAM
	}
	if c.Zone == "" {
		c.Zone = DefaultZone
	}
	return c
}

// TelegramConfig holds the notification bot settings stored alongside the
// legacy credentials.
type TelegramConfig struct {
	Token  string `json:"tgToken"`
	ChatID string `json:"tgChatId"`
}

// Settings is the remote settings document: legacy credentials, telegram
// config and the deployment SSH key.
type Settings struct {
	AppKey      string `json:"appKey,omitempty"`
	AppSecret   string `json:"appSecret,omitempty"`
	ConsumerKey string `json:"consumerKey,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	IAM         string `json:"iam,omitempty"`
	Zone        string `json:"zone,omitempty"`
	TgToken     string `json:"tgToken,omitempty"`
	TgChatID    string `json:"tgChatId,omitempty"`
	SSHKey      string `json:"sshKey,omitempty"`
}

// Credentials extracts the legacy credential set from the settings document.
func (s Settings) Credentials() Credentials {
	return Credentials{
		AppKey:      s.AppKey,
		AppSecret:   s.AppSecret,
		ConsumerKey: s.ConsumerKey,
		Endpoint:    s.Endpoint,
		IAM:         s.IAM,
		Zone:        s.Zone,
	}
}
