// Package tokenizer measures rendered context for the loop's context budget.
// Counters satisfy core.TokenCounter.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/hupe1980/agentloop/core"
)

var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4.1":       "o200k_base",
	"o1":            "o200k_base",
	"o3":            "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// DefaultEncoding is used for models without a known encoding.
const DefaultEncoding = "cl100k_base"

// EncodingFor returns the tiktoken encoding for a model name, matching by
// longest known prefix.
func EncodingFor(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	best, enc := 0, DefaultEncoding
	for prefix, e := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > best {
			best, enc = len(prefix), e
		}
	}
	return enc
}

// Tiktoken counts tokens with a tiktoken encoding. The encoding is loaded on
// first use; if loading fails every count falls back to Estimate.
type Tiktoken struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

var _ core.TokenCounter = (*Tiktoken)(nil)

// NewTiktoken creates a counter for the named encoding.
func NewTiktoken(encoding string) *Tiktoken {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Tiktoken{encoding: encoding}
}

// ForModel creates a counter using the encoding of the given model.
func ForModel(model string) *Tiktoken { return NewTiktoken(EncodingFor(model)) }

func (t *Tiktoken) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Err reports why the encoding could not be loaded, if it could not.
func (t *Tiktoken) Err() error { return t.init() }

// Count implements core.TokenCounter.
func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	if err := t.init(); err != nil {
		return Estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Name describes the counter.
func (t *Tiktoken) Name() string { return fmt.Sprintf("tiktoken[%s]", t.encoding) }

// Estimate approximates a token count from characters: about four ASCII
// characters or 1.5 CJK characters per token.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			cjk++
		}
	}
	n := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if n == 0 {
		n = 1
	}
	return n
}

// Estimator is a core.TokenCounter backed by Estimate.
var Estimator core.TokenCounter = core.TokenCounterFunc(Estimate)
