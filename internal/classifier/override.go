package classifier

import (
	"strings"
)

// OverrideReason is reported when the high-risk keyword gate fires
const OverrideReason = "Rule-based override: high-risk keyword detected"

// overrideKeywords is a broad high-recall list checked before the model.
// It is deliberately independent of the escalation keyword table.
var overrideKeywords = []string{
	// Regulatory criteria
	"hospital", "hospitalized", "hospitalised", "admitted", "admission",
	"icu", "intensive care", "critical care", "ccu",
	"death", "died", "fatal", "expired", "mortality",

	// Life-threatening / emergency
	"life threatening", "life-threatening",
	"cardiac arrest", "respiratory arrest",
	"shock", "septic shock", "anaphylaxis",

	// Major bleeding
	"gastrointestinal bleeding", "gi bleeding", "gi bleed",
	"melena", "black tarry stools",
	"hematemesis", "vomiting blood",
	"hemorrhage", "haemorrhage", "bleeding requiring transfusion",
	"blood transfusion", "transfusion",
	"hematuria", "blood in urine",
	"hemoptysis", "coughing up blood",
	"rectal bleeding",

	// Neurologic
	"intracranial hemorrhage", "intracranial haemorrhage",
	"brain bleed", "cerebral hemorrhage",
	"stroke", "cva", "subarachnoid hemorrhage",

	// Cardiac
	"myocardial infarction", "heart attack",
	"ventricular fibrillation", "ventricular tachycardia",
	"cardiac arrhythmia", "asystole",

	// Organ failure
	"acute renal failure", "kidney failure",
	"acute liver failure", "hepatic failure",
	"respiratory failure", "ventilator", "intubated",

	// Severe allergic / dermatologic
	"anaphylactic shock", "stevens-johnson syndrome", "sjs",
	"toxic epidermal necrolysis", "ten",

	// Pregnancy / congenital
	"congenital anomaly", "birth defect", "teratogenic",

	// Disability / permanent damage
	"permanent disability", "paralysis", "blindness", "coma",

	// Surgical / emergency intervention
	"emergency surgery", "urgent surgery",
	"intubation", "mechanical ventilation",

	// High-risk labs / conditions
	"severe anemia", "hemoglobin drop",
	"coagulopathy", "overdose", "toxicity",
}

// OverrideKeywords returns a copy of the gate's keyword list
func OverrideKeywords() []string {
	out := make([]string, len(overrideKeywords))
	copy(out, overrideKeywords)
	return out
}

// MatchesOverride reports whether text contains any high-risk keyword.
// Matching is case-insensitive substring containment.
func MatchesOverride(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range overrideKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
