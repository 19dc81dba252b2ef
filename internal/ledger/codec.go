package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/celerix-dev/celerix-gacha/pkg/schema"
)

// EncodeCompact renders a ledger in the layout the statistics consumers read:
// one event object per key in descending time order, one draw tuple per line.
//
//	{
//	  "1700000000": {
//	    "p": "Pool",
//	    "pt": 0,
//	    "c": [
//	      ["X", 6, 1]
//	    ]
//	  }
//	}
func EncodeCompact(l schema.Ledger) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	keys := l.SortedKeys()
	for i, k := range keys {
		ev := l[k]
		key, err := jsonString(k)
		if err != nil {
			return nil, err
		}
		pool, err := jsonString(ev.Pool)
		if err != nil {
			return nil, err
		}

		fmt.Fprintf(&buf, "  %s: {\n", key)
		fmt.Fprintf(&buf, "    \"p\": %s,\n", pool)
		fmt.Fprintf(&buf, "    \"pt\": %d,\n", ev.PoolType)
		buf.WriteString("    \"c\": [\n")
		for j, d := range ev.Draws {
			name, err := jsonString(d.Name)
			if err != nil {
				return nil, err
			}
			isNew := 0
			if d.IsNew {
				isNew = 1
			}
			fmt.Fprintf(&buf, "      [%s, %d, %d]", name, d.Rarity, isNew)
			if j < len(ev.Draws)-1 {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		buf.WriteString("    ]\n")
		buf.WriteString("  }")
		if i < len(keys)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// jsonString quotes s without HTML escaping so non-ASCII names stay readable.
// U+2028 and U+2029 are written raw, which encoding/json would escape.
func jsonString(s string) (string, error) {
	var b strings.Builder
	b.WriteByte('"')
	for {
		i := strings.IndexAny(s, lineSeparators)
		if i < 0 {
			break
		}
		if err := quoteInto(&b, s[:i]); err != nil {
			return "", err
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		b.WriteString(s[i : i+size])
		s = s[i+size:]
	}
	if err := quoteInto(&b, s); err != nil {
		return "", err
	}
	b.WriteByte('"')
	return b.String(), nil
}

const lineSeparators = "\u2028\u2029"

// quoteInto writes the escaped body of s, without the surrounding quotes.
func quoteInto(b *strings.Builder, s string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	quoted := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	b.Write(quoted[1 : len(quoted)-1])
	return nil
}

// Decode parses a ledger file. Empty input is an empty ledger.
func Decode(data []byte) (schema.Ledger, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return schema.Ledger{}, nil
	}
	var l schema.Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	if l == nil {
		l = schema.Ledger{}
	}
	for k := range l {
		if err := validKey(k); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func validKey(k string) error {
	if _, err := strconv.ParseInt(k, 10, 64); err != nil {
		return fmt.Errorf("ledger key %q is not a unix timestamp", k)
	}
	return nil
}
