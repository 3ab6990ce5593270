package episode

import (
	"fmt"
	"strings"
)

// titleKeywords is scanned in order; the first entry with a keyword found in
// the lowercased analysis text supplies the title.
var titleKeywords = []struct {
	keywords []string
	title    string
}{
	{[]string{"flu", "influenza"}, "Flu-like Illness"},
	{[]string{"cold"}, "Common Cold"},
	{[]string{"covid", "coronavirus"}, "COVID-like Illness"},
	{[]string{"stomach", "gastro"}, "Stomach Bug"},
	{[]string{"migraine", "headache"}, "Headache Episode"},
}

// GenerateTitle synthesizes an episode title when the analyzer did not suggest one.
func GenerateTitle(analysisText string, symptoms []string) string {
	if title := keywordTitle(analysisText); title != "" {
		return title
	}
	for _, s := range symptoms {
		if s = strings.TrimSpace(s); s != "" {
			return fmt.Sprintf("%s Episode", s)
		}
	}
	return "Illness Episode"
}

func keywordTitle(analysisText string) string {
	text := strings.ToLower(analysisText)
	if strings.TrimSpace(text) == "" {
		return ""
	}
	for _, kw := range titleKeywords {
		for _, k := range kw.keywords {
			if strings.Contains(text, k) {
				return kw.title
			}
		}
	}
	return ""
}
