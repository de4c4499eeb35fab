package order

import "strings"

const directAccess = "Direct access"

// Referral is the marketing attribution captured by the storefront.
type Referral struct {
	Source    string
	Medium    string
	Campaign  string
	Ref       string
	Timestamp string
}

func referralFrom(meta map[string]string) Referral {
	get := func(k string) string { return strings.TrimSpace(meta[k]) }
	return Referral{
		Source:    get(MetaReferralSource),
		Medium:    get(MetaReferralMedium),
		Campaign:  get(MetaReferralCampaign),
		Ref:       get(MetaReferralRef),
		Timestamp: get(MetaReferralTimestamp),
	}
}

// IsEmpty reports whether no attribution was recorded.
func (r Referral) IsEmpty() bool {
	return r.Source == "" && r.Medium == "" && r.Campaign == "" && r.Ref == "" && r.Timestamp == ""
}

// Summary renders "source / medium / campaign (ref)", leaving out empty parts.
func (r Referral) Summary() string {
	if r.IsEmpty() {
		return directAccess
	}
	s := joinNonEmpty([]string{r.Source, r.Medium, r.Campaign}, " / ")
	if r.Ref != "" {
		if s == "" {
			return "(" + r.Ref + ")"
		}
		s += " (" + r.Ref + ")"
	}
	if s == "" {
		// Only a timestamp was recorded.
		return directAccess
	}
	return s
}
