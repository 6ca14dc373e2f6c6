package generator

import (
	"errors"
	"math"
	"strings"
	"unicode"

	"genai_studio/document"
)

// WordsPerMinute is the reading speed behind Analytics.ReadingTime.
const WordsPerMinute = 200

// PostProcess validates a raw model answer and attaches analytics.
func PostProcess(raw string, req Request) (Result, error) {
	md := strings.TrimSpace(raw)
	if md == "" {
		return Result{}, errors.New("model returned empty markdown")
	}
	return Result{
		Answer:      md,
		Topic:       req.Topic,
		ContentType: req.ContentType,
		Analytics:   ComputeAnalytics(md),
	}, nil
}

// ComputeAnalytics derives word count, reading time, Flesch reading ease and
// a lexicon sentiment from markup.
func ComputeAnalytics(markup string) Analytics {
	text := document.PlainText(markup)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'' && r != '-')
	})
	a := Analytics{WordCount: len(words), Sentiment: "neutral"}
	if len(words) == 0 {
		return a
	}
	a.ReadingTime = int(math.Ceil(float64(len(words)) / WordsPerMinute))

	syllables := 0
	for _, w := range words {
		syllables += countSyllables(w)
	}
	sentences := countSentences(text)
	score := 206.835 - 1.015*(float64(len(words))/float64(sentences)) - 84.6*(float64(syllables)/float64(len(words)))
	a.ReadabilityScore = clampScore(int(math.Round(score)))
	a.Sentiment = sentiment(words)
	return a
}

func countSentences(text string) int {
	n := 0
	inEnd := false
	for _, r := range text {
		switch r {
		case '.', '!', '?', '\n':
			if !inEnd {
				n++
			}
			inEnd = true
		default:
			if !unicode.IsSpace(r) {
				inEnd = false
			}
		}
	}
	if !inEnd {
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}

func countSyllables(word string) int {
	w := strings.ToLower(word)
	count := 0
	prevVowel := false
	for _, r := range w {
		v := strings.ContainsRune("aeiouy", r)
		if v && !prevVowel {
			count++
		}
		prevVowel = v
	}
	if strings.HasSuffix(w, "e") && !strings.HasSuffix(w, "le") && count > 1 {
		count--
	}
	if count == 0 {
		count = 1
	}
	return count
}

var (
	positiveWords = wordSet("good great excellent amazing benefit benefits best better improve improved improves easy love happy success successful powerful helpful positive innovative efficient win opportunity opportunities")
	negativeWords = wordSet("bad poor worse worst risk risks problem problems difficult hard fail failure failed negative harmful slow expensive threat threats loss danger dangerous concern concerns")
)

func wordSet(s string) map[string]bool {
	m := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		m[w] = true
	}
	return m
}

func sentiment(words []string) string {
	score := 0
	for _, w := range words {
		w = strings.ToLower(w)
		switch {
		case positiveWords[w]:
			score++
		case negativeWords[w]:
			score--
		}
	}
	switch {
	case score > 0:
		return "positive"
	case score < 0:
		return "negative"
	default:
		return "neutral"
	}
}

// Digest returns the first prose line of markup, cut to limit bytes on a
// rune boundary.
func Digest(markup string, limit int) string {
	digest := extractDigest(markup)
	if digest == "" {
		digest = strings.Join(strings.Fields(document.PlainText(markup)), " ")
	}
	if limit <= 0 || len(digest) <= limit {
		return digest
	}
	cut := digest[:limit]
	for len(cut) > 0 && !utf8ValidEnd(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "…"
}

func utf8ValidEnd(s string) bool {
	return strings.ToValidUTF8(s, "") == s
}

func extractDigest(md string) string {
	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.TrimSpace(document.PlainText(line))
	}
	return ""
}
