// Package cleaner reduces fetched HTML to something a model can read.
package cleaner

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"search-agent/internal/application/port/output"
	"search-agent/internal/infrastructure/logger"
)

type Kind string

const (
	KindNone               Kind = "none"
	KindRemoveTags         Kind = "removeTags"
	KindReadability        Kind = "readability"
	KindBoilerplateRemoval Kind = "boilerplateRemoval"
	KindCustom             Kind = "custom"
)

// CustomFunc maps raw HTML to its cleaned form.
type CustomFunc func(rawHTML string) (string, error)

// DefaultRemovedTags is the structural denylist used by KindRemoveTags.
var DefaultRemovedTags = []string{"script", "style", "header", "footer", "nav", "aside", "form"}

type Config struct {
	Kind Kind
	// Custom is required for KindCustom and ignored otherwise.
	Custom CustomFunc
	// TagsToRemove overrides DefaultRemovedTags.
	TagsToRemove []string
	// MaxOutputSize truncates cleaned output; 0 keeps everything.
	MaxOutputSize int
	Logger        output.LoggerPort
}

// Cleaner is a tagged variant over the supported strategies.
type Cleaner struct {
	kind    Kind
	custom  CustomFunc
	tags    []string
	maxSize int
	logger  output.LoggerPort
}

// New validates cfg. Misconfiguration is reported here, never during Clean.
func New(cfg Config) (*Cleaner, error) {
	if cfg.Kind == "" {
		cfg.Kind = KindNone
	}
	switch cfg.Kind {
	case KindNone, KindRemoveTags, KindReadability, KindBoilerplateRemoval:
	case KindCustom:
		if cfg.Custom == nil {
			return nil, fmt.Errorf("cleaning kind %q requires a function", cfg.Kind)
		}
	default:
		return nil, fmt.Errorf("unknown cleaning kind %q", cfg.Kind)
	}

	tags := cfg.TagsToRemove
	if len(tags) == 0 {
		tags = append([]string(nil), DefaultRemovedTags...)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	return &Cleaner{
		kind:    cfg.Kind,
		custom:  cfg.Custom,
		tags:    tags,
		maxSize: cfg.MaxOutputSize,
		logger:  log,
	}, nil
}

// ParseKind accepts the names used in configuration files.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return KindNone, nil
	case "removetags", "remove_tags":
		return KindRemoveTags, nil
	case "readability":
		return KindReadability, nil
	case "boilerplateremoval", "boilerplate_removal", "trafilatura":
		return KindBoilerplateRemoval, nil
	case "custom":
		return KindCustom, nil
	}
	return "", fmt.Errorf("unknown cleaning kind %q", s)
}

func (c *Cleaner) Kind() Kind { return c.kind }

// Clean never fails: on any error or panic it logs and returns rawHTML.
// pageURL is used by extractors that resolve relative links and may be empty.
func (c *Cleaner) Clean(rawHTML, pageURL string) (cleaned string) {
	if rawHTML == "" {
		return rawHTML
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Cleaning panicked", "kind", c.kind, "url", pageURL, "panic", r)
			cleaned = rawHTML
		}
	}()

	out, err := c.dispatch(rawHTML, pageURL)
	if err != nil {
		c.logger.Warn("Cleaning failed, using raw HTML", "kind", c.kind, "url", pageURL, "error", err)
		return rawHTML
	}
	return truncate(out, c.maxSize)
}

func (c *Cleaner) dispatch(rawHTML, pageURL string) (string, error) {
	switch c.kind {
	case KindRemoveTags:
		return removeTags(rawHTML, c.tags)
	case KindReadability:
		return extractReadable(rawHTML, pageURL)
	case KindBoilerplateRemoval:
		return extractFullText(rawHTML, pageURL)
	case KindCustom:
		return c.custom(rawHTML)
	default:
		return rawHTML, nil
	}
}

// truncate cuts at a rune boundary at or below maxSize bytes.
func truncate(s string, maxSize int) string {
	if maxSize <= 0 || len(s) <= maxSize {
		return s
	}
	cut := maxSize
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n<!-- truncated -->"
}
