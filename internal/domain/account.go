package domain

// StatusUnavailable is the status reason recorded when an account cannot be
// probed: either its credential triple is incomplete, or the batch status
// endpoint answered with an empty list while accounts are known to exist.
// The string is displayed verbatim by the (Chinese-language) frontend.
const StatusUnavailable = "状态不可用"

// Account is one stored OVH credential triple plus region metadata,
// addressable by its canonical id (customer code or nichandle).
type Account struct {
	ID          string `json:"id"`
	Alias       string `json:"alias"`
	AppKey      string `json:"appKey"`
	AppSecret   string `json:"appSecret"`
	ConsumerKey string `json:"consumerKey"`
	Endpoint    string `json:"endpoint"`
	Zone        string `json:"zone"`
}

// HasCompleteCredentials reports whether the account carries the full
// appKey/appSecret/consumerKey triple required for a status probe.
func (a Account) HasCompleteCredentials() bool {
	return a.AppKey != "" && a.AppSecret != "" && a.ConsumerKey != ""
}

// AccountStatus is the cached validity of one account's credentials.
type AccountStatus struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// AccountStatusEntry is one row of the batch status response.
type AccountStatusEntry struct {
	ID    string `json:"id"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// AccountIdentity is the canonical identity the backend derives from a raw
// credential triple.
type AccountIdentity struct {
	CustomerCode string `json:"customerCode"`
	Nichandle    string `json:"nichandle"`
	Email        string `json:"email"`
}
