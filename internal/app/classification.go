package app

// AgeBand describes how a brain-age gap is reported to the user.
type AgeBand struct {
	Label           string
	Insight         string
	Recommendations []string
}

var (
	bandYounger = AgeBand{
		Label:   "Younger Brain",
		Insight: "Excellent neuroplasticity and balanced hormones. Your brain shows signs of healthy aging with strong cognitive reserve.",
		Recommendations: []string{
			"Continue your current healthy lifestyle habits",
			"Maintain regular physical exercise routine",
			"Keep engaging in cognitive challenges",
			"Ensure consistent quality sleep patterns",
		},
	}
	bandNormal = AgeBand{
		Label:   "Normal Brain Aging",
		Insight: "Brain age matches chronological age. Your brain is aging at a normal, healthy rate with good structural integrity.",
		Recommendations: []string{
			"Stay consistent with sleep, exercise, and diet",
			"Continue engaging in mentally stimulating activities",
			"Maintain social connections and relationships",
			"Practice stress management techniques",
		},
	}
	bandMildlyOlder = AgeBand{
		Label:   "Mildly Older Brain",
		Insight: "Brain appears slightly older than chronological age. May reflect stress, fatigue, or lifestyle factors.",
		Recommendations: []string{
			"Consider relaxation or mindfulness practices",
			"Prioritize quality sleep (7-9 hours nightly)",
			"Increase physical activity levels",
			"Evaluate and reduce sources of chronic stress",
		},
	}
	bandOlder = AgeBand{
		Label:   "Older Brain (Accelerated Aging)",
		Insight: "Brain shows signs of accelerated aging. May indicate chronic stress, poor sleep, or need for lifestyle adjustments.",
		Recommendations: []string{
			"Focus on stress reduction and better sleep hygiene",
			"Consult healthcare provider for comprehensive evaluation",
			"Implement regular aerobic exercise routine",
			"Consider cognitive training programs",
		},
	}
)

// ClassifyGap buckets predicted-minus-chronological age in years.
func ClassifyGap(gap float64) AgeBand {
	switch {
	case gap <= -3:
		return bandYounger
	case gap < 3:
		return bandNormal
	case gap < 7:
		return bandMildlyOlder
	default:
		return bandOlder
	}
}
