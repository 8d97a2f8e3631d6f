package usecase

import (
	"fmt"
	"hash/fnv"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxCollectionNameLen bounds derived collection names in bytes.
const MaxCollectionNameLen = 63

const fallbackCollectionName = "collection"

// CollectionName derives a collection name from an uploaded file name. Only
// the base name is used; the final extension is dropped, the rest is
// lowercased and every run of characters that are neither letters nor digits
// becomes a single underscore. Letters and digits outside ASCII are kept.
// "Brake Pads.csv" and "brake_pads.CSV" both map to brake_pads.
//
// A base name with no letters or digits maps to collection_<hash> so that
// distinct files of that kind do not share a collection.
func CollectionName(filename string) string {
	// Browsers on Windows may send a full path with backslashes.
	filename = strings.ReplaceAll(filename, `\`, "/")
	base := path.Base(filename)
	if base == "." || base == "/" {
		return fallbackCollectionName
	}
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" {
		return fallbackCollectionName
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(base) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	name := truncateName(b.String(), MaxCollectionNameLen)
	if name == "" {
		h := fnv.New32a()
		h.Write([]byte(base))
		return fmt.Sprintf("%s_%08x", fallbackCollectionName, h.Sum32())
	}
	return name
}

// truncateName cuts name to at most limit bytes on a rune boundary and drops
// a trailing separator left by the cut.
func truncateName(name string, limit int) string {
	if len(name) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return strings.TrimRight(name, "_")
}
