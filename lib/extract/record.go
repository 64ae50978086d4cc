package extract

// Attribution is appended to every successful record. The data belongs
// to the upstream service; records say so.
const Attribution = "ping0.cc"

// Record is the normalized network-identity result returned to callers.
// Every field except IP is best-effort: the upstream page is not ours
// and fields disappear as its markup churns.
type Record struct {
	IP           string `json:"ip"`
	IPLocation   string `json:"ip_location,omitempty"`
	CountryFlag  string `json:"country_flag,omitempty"`
	ASN          string `json:"asn,omitempty"`
	ASNOwner     string `json:"asn_owner,omitempty"`
	ASNType      string `json:"asn_type"`
	Organization string `json:"organization,omitempty"`
	OrgType      string `json:"org_type"`
	Longitude    string `json:"longitude,omitempty"`
	Latitude     string `json:"latitude,omitempty"`
	IPType       string `json:"ip_type,omitempty"`
	RiskValue    string `json:"risk_value,omitempty"`
	NativeIP     string `json:"native_ip,omitempty"`
	Source       string `json:"source"`
}
