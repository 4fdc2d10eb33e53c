package model

// ThreeDSecureChallenge is returned to the caller for the ACS redirect.
type ThreeDSecureChallenge struct {
	ACSURL      string `json:"acs_url"`
	AuthRequest string `json:"auth_request"`
	MD          string `json:"md"`
	TermURL     string `json:"term_url"`
	Version     string `json:"version"`
}

type ThreeDSecureResult struct {
	Authenticated bool   `json:"authenticated"`
	TransStatus   string `json:"trans_status,omitempty"`
	CAVV          string `json:"cavv,omitempty"`
	ECI           string `json:"eci,omitempty"`
	XID           string `json:"xid,omitempty"`
	Version       string `json:"version,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}
