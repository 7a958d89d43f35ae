package markov

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Control marks message boundaries in every model.
const Control = "\x02"

const (
	ModeWord         = "word"
	ModeChunk        = "chunk"
	defaultChunkSize = 3
)

var (
	ErrInvalidMode    = errors.New("mode must be word, chunk or chunk<N>")
	ErrMalformedModel = errors.New("model is malformed")
)

var wordTokens = regexp.MustCompile(`[\p{L}\p{N}_]+|[^\p{L}\p{N}_\s]+`)

// Table maps a state key to the observed next tokens and their counts.
type Table map[string]map[string]int

// Mode is a parsed tokenisation strategy.
type Mode struct {
	Chunk bool
	Size  int
}

func ParseMode(raw string) (Mode, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch {
	case raw == ModeWord:
		return Mode{}, nil
	case raw == ModeChunk:
		return Mode{Chunk: true, Size: defaultChunkSize}, nil
	case strings.HasPrefix(raw, ModeChunk):
		size, err := strconv.Atoi(strings.TrimPrefix(raw, ModeChunk))
		if err != nil || size < 1 {
			return Mode{}, ErrInvalidMode
		}
		return Mode{Chunk: true, Size: size}, nil
	}
	return Mode{}, ErrInvalidMode
}

func (m Mode) String() string {
	if !m.Chunk {
		return ModeWord
	}
	if m.Size == defaultChunkSize {
		return ModeChunk
	}
	return ModeChunk + strconv.Itoa(m.Size)
}

func (m Mode) separator() string {
	if m.Chunk {
		return ""
	}
	return " "
}

// ModelKey names the model of one (mode, depth) pair.
func ModelKey(mode string, depth int) string {
	return fmt.Sprintf("%s-%d", mode, depth)
}

// Tokenize splits text for mode and terminates the sequence with Control.
func Tokenize(mode Mode, text string) []string {
	var tokens []string
	if mode.Chunk {
		runes := []rune(text)
		for start := 0; start < len(runes); start += mode.Size {
			end := start + mode.Size
			if end > len(runes) {
				end = len(runes)
			}
			tokens = append(tokens, string(runes[start:end]))
		}
	} else {
		tokens = wordTokens.FindAllString(text, -1)
	}
	return append(tokens, Control)
}

// Learn records every transition of tokens into table.
func Learn(table Table, mode Mode, depth int, tokens []string) {
	state := Control
	sep := mode.separator()
	for i, token := range tokens {
		next := table[state]
		if next == nil {
			next = make(map[string]int)
			table[state] = next
		}
		next[token]++

		start := i - depth + 1
		if start < 0 {
			start = 0
		}
		state = strings.Join(tokens[start:i+1], sep)
	}
}

// Generate walks table from Control until Control is drawn again or the
// output passes limit characters. intn must return a value in [0, n).
func Generate(table Table, mode Mode, depth int, limit int, intn func(int) int) (string, error) {
	var emitted []string
	state := Control
	size := 0
	for size <= limit {
		next, ok := table[state]
		if !ok || len(next) == 0 {
			return "", ErrMalformedModel
		}
		token := draw(next, intn)
		if token == Control {
			break
		}
		emitted = append(emitted, token)
		size += utf8.RuneCountInString(token) + 1

		start := len(emitted) - depth
		if start < 0 {
			start = 0
		}
		state = strings.Join(emitted[start:], mode.separator())
	}
	return truncate(join(mode, emitted), limit), nil
}

func draw(next map[string]int, intn func(int) int) string {
	tokens := make([]string, 0, len(next))
	total := 0
	for token, count := range next {
		tokens = append(tokens, token)
		total += count
	}
	sort.Strings(tokens)

	pick := intn(total)
	for _, token := range tokens {
		pick -= next[token]
		if pick < 0 {
			return token
		}
	}
	return tokens[len(tokens)-1]
}

const (
	openers = "([{\"'“‘«"
	huggers = ".,!?;:)]}%…'”’»"
)

func join(mode Mode, tokens []string) string {
	if mode.Chunk {
		return strings.Join(tokens, "")
	}
	var b strings.Builder
	for i, token := range tokens {
		if i > 0 && !opens(tokens[i-1]) && !hugs(token) {
			b.WriteByte(' ')
		}
		b.WriteString(token)
	}
	return b.String()
}

func opens(token string) bool {
	last, _ := utf8.DecodeLastRuneInString(token)
	return strings.ContainsRune(openers, last)
}

func hugs(token string) bool {
	first, _ := utf8.DecodeRuneInString(token)
	return strings.ContainsRune(huggers, first)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
