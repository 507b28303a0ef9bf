package rating

import (
	"strings"

	"policy-orchestrator/internal/models"
)

// Project flattens a transaction into the dotted paths templates refer to in
// their `from` entries, e.g. insured.name, exposures.payroll, attributes.x.
func Project(tx *models.Transaction) map[string]string {
	out := map[string]string{
		"source":     tx.Source,
		"externalId": tx.ExternalID,
		"kind":       string(tx.Kind),
	}
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set("refs.insuredId", tx.Refs.InsuredID)
	set("refs.locationId", tx.Refs.LocationID)
	set("refs.submissionId", tx.Refs.SubmissionID)
	set("refs.quoteId", tx.Refs.QuoteID)
	set("classification", tx.Refs.Classification)

	p := tx.Payload
	if p == nil {
		return out
	}

	addParty(out, "insured", &p.Insured)
	if p.Producer != nil {
		addParty(out, "producer", p.Producer)
	}
	if p.Underwriter != nil {
		addParty(out, "underwriter", p.Underwriter)
	}

	set("effectiveDate", p.EffectiveDate.String())
	set("expirationDate", p.ExpirationDate.String())
	set("jurisdiction", strings.ToUpper(p.Jurisdiction))
	set("coverageDescription", p.CoverageDescription)
	if _, ok := out["classification"]; !ok {
		set("classification", p.Classification)
	}
	if p.Premium != nil {
		out["premium"] = models.FormatAmount(*p.Premium)
	}
	for name, v := range p.Exposures {
		out["exposures."+name] = v.String()
	}
	for name, v := range p.Attributes {
		set("attributes."+name, v)
	}
	return out
}

func addParty(out map[string]string, prefix string, party *models.Party) {
	set := func(key, value string) {
		if value != "" {
			out[prefix+"."+key] = value
		}
	}
	set("name", party.Name)
	set("lastName", party.LastName)
	set("businessType", party.BusinessType)
	if a := party.Address; a != nil {
		set("address.line1", a.Line1)
		set("address.line2", a.Line2)
		set("address.city", a.City)
		set("address.state", a.State)
		set("address.postalCode", a.PostalCode)
	}
}
