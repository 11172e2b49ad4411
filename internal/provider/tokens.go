package provider

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/haasonsaas/agentrun/pkg/agentmsg"
)

// encodingCache memoizes tiktoken BPE encodings by name; building one is
// expensive enough (loading the rank table) that every CountTokensPrecise
// call must not re-pay it.
var encodingCache sync.Map // map[string]*tiktoken.Tiktoken

// CountTokensPrecise counts tokens for messages using the named tiktoken
// encoding (e.g. "cl100k_base", "o200k_base"). When the encoding can't be
// resolved (an unrecognized name, or the offline rank data isn't
// vendored for it) it falls back to CountTokensFallback.
func CountTokensPrecise(encodingName string, messages []agentmsg.Message) int {
	enc, ok := encodingFor(encodingName)
	if !ok {
		return CountTokensFallback(messages)
	}

	total := 0
	images := 0
	for _, m := range messages {
		total += len(enc.Encode(m.Flatten(), nil, nil))
		images += m.ImageCount()
	}
	// Images have no text representation for a BPE encoder; charge the
	// same fixed per-image allowance the character fallback uses.
	total += 765 * images
	return total
}

func encodingFor(name string) (*tiktoken.Tiktoken, bool) {
	if name == "" {
		return nil, false
	}
	if cached, ok := encodingCache.Load(name); ok {
		return cached.(*tiktoken.Tiktoken), true
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil || enc == nil {
		return nil, false
	}
	encodingCache.Store(name, enc)
	return enc, true
}

// EncodingNameForModel resolves the tiktoken encoding name conventionally
// associated with a model family. Unknown families return "" so callers
// fall back to the character-based estimate.
func EncodingNameForModel(modelName string) string {
	if name, ok := tiktoken.MODEL_TO_ENCODING[modelName]; ok {
		return name
	}
	for prefix, name := range tiktoken.MODEL_PREFIX_TO_ENCODING {
		if strings.HasPrefix(modelName, prefix) {
			return name
		}
	}
	return ""
}
