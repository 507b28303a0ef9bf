// Package mapping holds the single canonical translation tables between
// partner vocabulary and backend codes.
package mapping

import (
	"sort"
	"strings"
)

// BusinessType is the backend's numeric organization type.
type BusinessType struct {
	ID    int
	Label string
}

var businessTypes = map[string]BusinessType{
	"INDIVIDUAL":                {1, "Individual"},
	"SOLE PROPRIETOR":           {1, "Individual"},
	"CORPORATION":               {2, "Corporation"},
	"INC":                       {2, "Corporation"},
	"S CORPORATION":             {2, "Corporation"},
	"PARTNERSHIP":               {3, "Partnership"},
	"LIMITED PARTNERSHIP":       {3, "Partnership"},
	"LLC":                       {4, "Limited Liability Company"},
	"LIMITED LIABILITY COMPANY": {4, "Limited Liability Company"},
	"JOINT VENTURE":             {5, "Joint Venture"},
	"TRUST":                     {6, "Trust"},
	"NON PROFIT":                {7, "Non-Profit Organization"},
	"NONPROFIT":                 {7, "Non-Profit Organization"},
	"OTHER":                     {9, "Other"},
}

// Other is used when a partner label is unknown.
var Other = businessTypes["OTHER"]

func normalizeKey(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer(".", "", ",", "", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// LookupBusinessType maps a partner label onto the backend type.
func LookupBusinessType(label string) (BusinessType, bool) {
	bt, ok := businessTypes[normalizeKey(label)]
	return bt, ok
}

// InferBusinessType guesses from a legal name suffix when no label is given.
func InferBusinessType(name string) BusinessType {
	n := " " + normalizeKey(name) + " "
	switch {
	case strings.Contains(n, " LLC ") || strings.Contains(n, " L L C "):
		return businessTypes["LLC"]
	case strings.Contains(n, " INC ") || strings.Contains(n, " CORP ") || strings.Contains(n, " CORPORATION "):
		return businessTypes["CORPORATION"]
	case strings.Contains(n, " LP ") || strings.Contains(n, " LLP ") || strings.Contains(n, " PARTNERS "):
		return businessTypes["PARTNERSHIP"]
	case strings.Contains(n, " TRUST "):
		return businessTypes["TRUST"]
	}
	return Other
}

// CancellationReason is a backend cancellation reason code.
type CancellationReason struct {
	Code  string
	Label string
}

var cancellationReasons = map[string]CancellationReason{
	"NON PAYMENT":       {"NP", "Non-payment of premium"},
	"NONPAYMENT":        {"NP", "Non-payment of premium"},
	"INSURED REQUEST":   {"IR", "Insured's request"},
	"REQUEST":           {"IR", "Insured's request"},
	"UNDERWRITING":      {"UW", "Underwriting reasons"},
	"MATERIAL MISREP":   {"MM", "Material misrepresentation"},
	"MISREPRESENTATION": {"MM", "Material misrepresentation"},
	"BUSINESS CLOSED":   {"BC", "Business sold or closed"},
	"BUSINESS SOLD":     {"BC", "Business sold or closed"},
	"REWRITE":           {"RW", "Rewritten"},
}

func LookupCancellationReason(label string) (CancellationReason, bool) {
	r, ok := cancellationReasons[normalizeKey(label)]
	return r, ok
}

// ClassificationRule maps coverage text keywords to a classification code.
type ClassificationRule struct {
	Code     string
	Keywords []string
}

// classificationRules is ordered: earlier rules win on equal keyword hits.
var classificationRules = []ClassificationRule{
	{Code: "HOME_HEALTH", Keywords: []string{"home health", "nursing", "caregiver", "home care", "personal care"}},
	{Code: "MEDICAL_OFFICE", Keywords: []string{"clinic", "physician", "medical office", "dental", "chiropract"}},
	{Code: "RESTAURANT", Keywords: []string{"restaurant", "cafe", "bar ", "catering", "food service"}},
	{Code: "CONTRACTOR", Keywords: []string{"contractor", "construction", "roofing", "plumbing", "electrical"}},
	{Code: "RETAIL", Keywords: []string{"retail", "store", "shop", "boutique"}},
	{Code: "PROFESSIONAL", Keywords: []string{"consulting", "accounting", "law firm", "attorney", "professional services"}},
	{Code: "TRANSPORTATION", Keywords: []string{"trucking", "transport", "delivery", "courier", "freight"}},
}

// Classify scores each rule by keyword hits in text and returns the best code.
func Classify(text string) (string, bool) {
	lower := " " + strings.ToLower(text) + " "
	type hit struct {
		idx, count int
	}
	var hits []hit
	for i, rule := range classificationRules {
		n := 0
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, hit{i, n})
		}
	}
	if len(hits) == 0 {
		return "", false
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].count > hits[b].count })
	return classificationRules[hits[0].idx].Code, true
}

// IsKnownClassification reports whether code is one the rules can produce.
func IsKnownClassification(code string) bool {
	for _, rule := range classificationRules {
		if rule.Code == code {
			return true
		}
	}
	return false
}
