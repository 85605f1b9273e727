package domain

// ConditionGroup describes one primary condition group in the admission taxonomy.
type ConditionGroup struct {
	Code                string
	ICD10               []string
	DRG                 string
	PreventableBaseRate float64
	CostMultiplier      float64
}

// Condition group codes.
const (
	ConditionCHF       = "CHF"
	ConditionCOPD      = "COPD"
	ConditionDiabetes  = "DIABETES"
	ConditionPneumonia = "PNEUMONIA"
	ConditionSepsis    = "SEPSIS"
	ConditionCKD       = "CKD"
	ConditionHTN       = "HTN"
)

// ConditionGroups returns the fixed condition taxonomy in canonical order.
// A fresh copy is returned on every call.
func ConditionGroups() []ConditionGroup {
	return []ConditionGroup{
		{Code: ConditionCHF, ICD10: []string{"I50.9", "I50.1", "I11.0"}, DRG: "291", PreventableBaseRate: 0.55, CostMultiplier: 1.10},
		{Code: ConditionCOPD, ICD10: []string{"J44.9", "J44.1"}, DRG: "190", PreventableBaseRate: 0.50, CostMultiplier: 1.00},
		{Code: ConditionDiabetes, ICD10: []string{"E11.9", "E11.65"}, DRG: "640", PreventableBaseRate: 0.35, CostMultiplier: 0.85},
		{Code: ConditionPneumonia, ICD10: []string{"J18.9", "J13"}, DRG: "193", PreventableBaseRate: 0.40, CostMultiplier: 0.95},
		{Code: ConditionSepsis, ICD10: []string{"A41.9", "R65.20"}, DRG: "871", PreventableBaseRate: 0.20, CostMultiplier: 1.55},
		{Code: ConditionCKD, ICD10: []string{"N18.3", "N18.4", "N18.5"}, DRG: "694", PreventableBaseRate: 0.25, CostMultiplier: 1.25},
		{Code: ConditionHTN, ICD10: []string{"I10"}, DRG: "301", PreventableBaseRate: 0.18, CostMultiplier: 0.80},
	}
}

// ConditionCodes returns the condition group codes in canonical order.
func ConditionCodes() []string {
	groups := ConditionGroups()
	codes := make([]string, len(groups))
	for i, g := range groups {
		codes[i] = g.Code
	}
	return codes
}

// IsConditionGroup reports whether code belongs to the taxonomy.
func IsConditionGroup(code string) bool {
	switch code {
	case ConditionCHF, ConditionCOPD, ConditionDiabetes, ConditionPneumonia,
		ConditionSepsis, ConditionCKD, ConditionHTN:
		return true
	}
	return false
}
