package models

import "strings"

// HeaderMapping maps canonical field names to the header string a client uses
// for that field. Per-org overrides layer on top of the defaults.
type HeaderMapping map[string]string

// defaultHeaders maps canonical field name to the header we expect when a
// client has no override configured.
var defaultHeaders = map[string]string{
	"date_of_birth":               "date_of_birth",
	"email":                       "email",
	"unique_corp_id":              "employee_id",
	"employer_assigned_id":        "employer_assigned_id",
	"dependent_id":                "dependent_id",
	"gender":                      "gender",
	"beneficiaries_enabled":       "beneficiaries_enabled",
	"wallet_enabled":              "wallet_enabled",
	"office_id":                   "office_id",
	"work_state":                  "work_state",
	"work_country":                "work_country",
	"first_name":                  "employee_first_name",
	"last_name":                   "employee_last_name",
	"dependent_relationship_code": "dependent_relationship_code",
	"lob":                         "lob",
	"salary_tier":                 "salary_tier",
	"plan_carrier":                "plan_carrier",
	"cobra_coverage":              "cobra_coverage",
	"company_couple":              "company_couple",
	"address_1":                   "address_1",
	"address_2":                   "address_2",
	"city":                        "city",
	"state":                       "state",
	"zip_code":                    "zip_code",
	"country":                     "country",
}

// optionalHeaders are accepted when present but never required.
var optionalHeaders = map[string]string{
	"client_id":   "client_id",
	"customer_id": "customer_id",
}

// HealthPlanFields are grouped under custom_attributes["health_plan_values"]
// when present on a row.
var HealthPlanFields = map[string]struct{}{
	"maternity_indicator_date": {},
	"maternity_indicator":      {},
	"delivery_indicator_date":  {},
	"delivery_indicator":       {},
	"fertility_indicator_date": {},
	"fertility_indicator":      {},
	"p_and_p_indicator":        {},
	"client_name":              {},
}

// WithDefaults returns the default mapping overlaid with any per-org
// overrides.
func (m HeaderMapping) WithDefaults() map[string]string {
	merged := make(map[string]string, len(defaultHeaders)+len(m))
	for k, v := range defaultHeaders {
		merged[k] = v
	}
	for k, v := range m {
		merged[k] = v
	}
	return merged
}

// OptionalHeaders returns the optional mapping overlaid with any per-org
// overrides.
func (m HeaderMapping) OptionalHeaders() map[string]string {
	merged := make(map[string]string, len(optionalHeaders)+len(m))
	for k, v := range optionalHeaders {
		merged[k] = v
	}
	for k, v := range m {
		merged[k] = v
	}
	return merged
}

// AliasToCanonical inverts the merged default plus optional mapping into a
// lookup of lowercased client header to canonical field name.
func (m HeaderMapping) AliasToCanonical() map[string]string {
	merged := m.WithDefaults()
	for k, v := range m.OptionalHeaders() {
		merged[k] = v
	}
	inverted := make(map[string]string, len(merged))
	for canonical, alias := range merged {
		inverted[strings.ToLower(alias)] = strings.ToLower(canonical)
	}
	return inverted
}
