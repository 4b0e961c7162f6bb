package classifier

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	digitRun         = regexp.MustCompile(`\d+`)
	nonWordChar      = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	hyphenRun        = regexp.MustCompile(`-+`)
	standaloneHyphen = regexp.MustCompile(`\s-\s`)
)

var stopwords = toSet([]string{
	"a", "an", "the", "is", "are", "was", "were", "be", "been",
	"being", "have", "has", "had", "do", "does", "did", "will",
	"would", "could", "should", "may", "might", "must", "shall",
	"can", "need", "dare", "ought", "used", "to", "of", "in",
	"for", "on", "with", "at", "by", "from", "as", "into",
	"through", "during", "before", "after", "above", "below",
	"between", "under", "again", "further", "then", "once",
	"and", "but", "or", "nor", "so", "yet", "both", "either",
	"neither", "not", "only", "own", "same", "than", "too",
	"very", "just", "also", "now", "here", "there", "when",
	"where", "why", "how", "all", "each", "few", "more", "most",
	"other", "some", "such", "no", "any", "i", "me", "my",
	"myself", "we", "our", "ours", "ourselves", "you", "your",
	"yours", "yourself", "yourselves", "he", "him", "his",
	"himself", "she", "her", "hers", "herself", "it", "its",
	"itself", "they", "them", "their", "theirs", "themselves",
	"what", "which", "who", "whom", "this", "that", "these",
	"those", "am",
})

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// CleanText lowercases text and strips digits and punctuation, keeping
// hyphens inside medical terms
func CleanText(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ToLower(text)
	text = digitRun.ReplaceAllString(text, "")
	text = nonWordChar.ReplaceAllString(text, " ")
	text = hyphenRun.ReplaceAllString(text, "-")
	text = standaloneHyphen.ReplaceAllString(text, " ")

	return strings.Join(strings.Fields(text), " ")
}

// RemoveStopwords drops common English stopwords and single-character tokens
func RemoveStopwords(text string) string {
	words := strings.Fields(text)
	kept := words[:0]
	for _, w := range words {
		if _, stop := stopwords[w]; stop {
			continue
		}
		if utf8.RuneCountInString(w) <= 1 {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// PreprocessText cleans a narrative and removes stopwords
func PreprocessText(text string) string {
	return RemoveStopwords(CleanText(text))
}

// CombineFeatures builds the model input: the cleaned drug name twice for
// emphasis, then the preprocessed event narrative
func CombineFeatures(drugName, adverseEvent string) string {
	drug := CleanText(drugName)
	event := PreprocessText(adverseEvent)
	return strings.TrimSpace(drug + " " + drug + " " + event)
}
