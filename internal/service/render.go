package service

import (
	"fmt"
	"strings"

	"github.com/quillhq/newsletter-backend/internal/model"
)

// Renderer turns campaign content into the HTML sent to one subscriber.
// The full template/brand pipeline lives outside this service; anything
// satisfying this interface can stand in for it.
type Renderer interface {
	Render(subject, content string, subscriber model.Subscriber, unsubscribeURL string) (string, error)
}

// TemplateRenderer is the built-in placeholder renderer.
type TemplateRenderer struct {
	// BrandSettings are substituted into every email, e.g. "brand_name".
	BrandSettings map[string]string
}

func (t *TemplateRenderer) Render(subject, content string, subscriber model.Subscriber, unsubscribeURL string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("content cannot be empty")
	}

	data := map[string]string{
		"subject":         subject,
		"email":           subscriber.Email,
		"unsubscribe_url": unsubscribeURL,
	}
	for k, v := range t.BrandSettings {
		data[k] = v
	}

	return RenderTemplate(content, data), nil
}

func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}
