// Package blocks reads and edits comment-delimited block markup, e.g.
//
//	<!-- wp:image {"id":2,"sizeSlug":"large"} -->
//	<figure class="wp-block-image"><img src="..." class="wp-image-2"/></figure>
//	<!-- /wp:image -->
//
// It is a textual matcher, not a block grammar parser: same-named blocks
// cannot nest, and the first opening tag pairs with the nearest closing tag.
package blocks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const ImageBlock = "wp:image"

var ErrNoOpeningTag = errors.New("block has no opening comment tag")

// Block is a view over a substring of a document.
type Block struct {
	Name  string
	Raw   string
	Inner string
	// Start and End are byte offsets of Raw in the scanned content.
	Start int
	End   int
}

func (b Block) String() string {
	return b.Raw
}

// Attributes decodes the block's attribute object. Values keep their
// original JSON bytes. A block without attributes yields an empty map.
func (b Block) Attributes() (*orderedmap.OrderedMap[string, json.RawMessage], error) {
	attrs, _, _, err := decodeAttributes(b.Raw)
	return attrs, err
}

var (
	patternsMu sync.Mutex
	patterns   = map[string]*regexp.Regexp{}
)

func blockPattern(name string) *regexp.Regexp {
	patternsMu.Lock()
	defer patternsMu.Unlock()

	if re, ok := patterns[name]; ok {
		return re
	}
	quoted := regexp.QuoteMeta(name)
	re := regexp.MustCompile(`(?is)<!--\s+` + quoted + `(?:\s.*?)?-->(.*?)<!--\s+/` + quoted + `\s+-->`)
	patterns[name] = re
	return re
}

// Find returns every block called name in content, in document order.
func Find(name, content string) []Block {
	matches := blockPattern(name).FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return nil
	}

	found := make([]Block, 0, len(matches))
	for _, m := range matches {
		found = append(found, Block{
			Name:  name,
			Raw:   content[m[0]:m[1]],
			Inner: content[m[2]:m[3]],
			Start: m[0],
			End:   m[1],
		})
	}
	return found
}

// Splice replaces the span of b in content with replacement.
func Splice(content string, b Block, replacement string) string {
	return content[:b.Start] + replacement + content[b.End:]
}

// Attribute returns the raw JSON value of attribute name from the block's
// opening tag, or nil if the block has no such attribute.
func Attribute(blockHTML, name string) json.RawMessage {
	attrs, _, _, err := decodeAttributes(blockHTML)
	if err != nil {
		return nil
	}
	value, ok := attrs.Get(name)
	if !ok {
		return nil
	}
	return value
}

// IntAttribute returns attribute name as an integer.
func IntAttribute(blockHTML, name string) (int64, bool) {
	raw := Attribute(blockHTML, name)
	if raw == nil {
		return 0, false
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		// Numeric ids are sometimes stored as strings.
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		n = json.Number(s)
	}
	id, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// SetAttribute sets attribute name to value in the block's opening tag.
// Only the attribute object is rewritten; everything else in blockHTML is
// returned byte for byte. A block without an attribute object gets one
// inserted before the opening tag's "-->".
func SetAttribute(blockHTML, name string, value any) (string, error) {
	raw, err := marshalJSON(value)
	if err != nil {
		return "", fmt.Errorf("encode attribute %s: %w", name, err)
	}

	attrs, from, to, err := decodeAttributes(blockHTML)
	if err != nil {
		return "", err
	}
	attrs.Set(name, raw)

	encoded, err := encodeAttributes(attrs)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}

	if from >= 0 {
		return blockHTML[:from] + string(encoded) + blockHTML[to:], nil
	}

	// from < 0: no attribute object yet, to is the position of "-->".
	head := blockHTML[:to]
	if !strings.HasSuffix(head, " ") {
		head += " "
	}
	return head + string(encoded) + " " + blockHTML[to:], nil
}

// encodeAttributes writes attrs in order with every stored value emitted
// as its original bytes.
func encodeAttributes(attrs *orderedmap.OrderedMap[string, json.RawMessage]) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for pair := attrs.Oldest(); pair != nil; pair = pair.Next() {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		key, err := marshalJSON(pair.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(pair.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalJSON is json.Marshal without HTML escaping.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// decodeAttributes locates the attribute object between the first "{" and
// the last "}" of the opening comment tag. It returns the object's span as
// [from, to). Without an object, from is -1 and to is the offset of the
// opening tag's "-->".
func decodeAttributes(blockHTML string) (*orderedmap.OrderedMap[string, json.RawMessage], int, int, error) {
	attrs := orderedmap.New[string, json.RawMessage]()

	closing := strings.Index(blockHTML, "-->")
	if closing < 0 {
		return attrs, -1, -1, ErrNoOpeningTag
	}
	opening := blockHTML[:closing]

	from := strings.Index(opening, "{")
	to := strings.LastIndex(opening, "}")
	if from < 0 || to < from {
		return attrs, -1, closing, nil
	}

	if err := json.Unmarshal([]byte(opening[from:to+1]), attrs); err != nil {
		return attrs, -1, -1, fmt.Errorf("decode block attributes: %w", err)
	}
	return attrs, from, to + 1, nil
}
