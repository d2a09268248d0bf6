package translate

import (
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheSize bounds the process-wide response cache.
const cacheSize = 200

// cacheKeyPayload is the canonical cache key tuple. Field order is part of
// the canonical form; history entries are included verbatim.
type cacheKeyPayload struct {
	Mode           string   `json:"mode"`
	Text           string   `json:"text"`
	History        []string `json:"history"`
	ExtraContext   string   `json:"extra_context"`
	TargetLanguage string   `json:"target_language"`
	Model          string   `json:"model"`
}

// cacheKey serialises the tuple to its canonical JSON form.
func cacheKey(mode, text string, history []string, extraContext, targetLanguage, model string) string {
	if history == nil {
		history = []string{}
	}
	data, err := json.Marshal(cacheKeyPayload{
		Mode:           mode,
		Text:           text,
		History:        history,
		ExtraContext:   extraContext,
		TargetLanguage: targetLanguage,
		Model:          model,
	})
	if err != nil {
		// The payload is strings only; marshalling cannot fail in practice.
		return mode + "\x00" + text
	}
	return string(data)
}

// newCache creates the bounded LRU. hashicorp/golang-lru moves entries to
// most-recently-used on Get and evicts the least-recently-used on insert,
// which is exactly the required policy.
func newCache() *lru.Cache[string, string] {
	c, err := lru.New[string, string](cacheSize)
	if err != nil {
		// Only reachable with a non-positive size constant.
		panic(err)
	}
	return c
}
