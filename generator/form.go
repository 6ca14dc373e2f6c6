package generator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyTopic is returned by Submit when no topic was entered.
var ErrEmptyTopic = errors.New("topic is required")

// Suggested values offered by the form. Free-form values are accepted too.
var (
	Tones        = []string{"neutral", "formal", "informal", "friendly", "professional"}
	ContentTypes = []string{"blog post", "tweet", "linkedin post", "email", "article"}
)

// Form collects the generation fields before submission.
type Form struct {
	Topic          string
	Tone           string
	ContentType    string
	TargetAudience string
	Language       string
}

func NewForm() *Form {
	return &Form{
		Tone:           "neutral",
		ContentType:    "blog post",
		TargetAudience: "general",
		Language:       "English",
	}
}

// Set assigns a field by its request name (topic, tone, content_type,
// target_audience or audience, language).
func (f *Form) Set(field, value string) error {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "topic":
		f.Topic = value
	case "tone":
		f.Tone = value
	case "content_type", "type":
		f.ContentType = value
	case "target_audience", "audience":
		f.TargetAudience = value
	case "language", "lang":
		f.Language = value
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	return nil
}

// Submit returns the request for the current field values.
func (f *Form) Submit() (Request, error) {
	topic := strings.TrimSpace(f.Topic)
	if topic == "" {
		return Request{}, ErrEmptyTopic
	}
	return Request{
		Topic:          topic,
		Tone:           f.Tone,
		ContentType:    f.ContentType,
		TargetAudience: f.TargetAudience,
		Language:       f.Language,
	}, nil
}
