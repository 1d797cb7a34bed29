// Package alias canonicalizes dated and build-suffixed model identifiers so
// that policies and price lookups only ever deal in base model names.
package alias

import (
	"regexp"
	"strings"
)

// Suffix shapes stripped from the end of a model id, tried in order.
var (
	previewSuffix = regexp.MustCompile(`-preview-\d{2}-\d{2}$`)
	dateSuffix    = regexp.MustCompile(`-20\d{2}-\d{2}-\d{2}$`)
	buildSuffix   = regexp.MustCompile(`-\d{3,4}$`)
)

// Resolve maps a model id to its canonical base name.
//
// Colon-versioned ids (e.g. bedrock "anthropic.claude-3-sonnet-v1:0") are
// pinned artifact references and pass through untouched. Everything else has
// "-preview-MM-DD", "-YYYY-MM-DD", and bare 3-4 digit build suffixes stripped
// until none match, so the result is a fixpoint and Resolve is idempotent.
func Resolve(model string) string {
	if model == "" || strings.ContainsRune(model, ':') {
		return model
	}

	for {
		stripped := model
		for _, re := range []*regexp.Regexp{previewSuffix, dateSuffix, buildSuffix} {
			if loc := re.FindStringIndex(stripped); loc != nil {
				stripped = stripped[:loc[0]]
				break
			}
		}
		if stripped == model {
			return model
		}
		model = stripped
	}
}
