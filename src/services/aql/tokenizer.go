package aql

import (
	"strconv"
	"strings"
	"unicode"

	"axoncore/src/domain"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokDuration
	tokOperator
	tokPunct
	tokPlaceholder
)

func (k tokenKind) String() string {
	switch k {
	case tokIdent:
		return "identifier"
	case tokString:
		return "string"
	case tokNumber:
		return "number"
	case tokDuration:
		return "duration"
	case tokOperator:
		return "operator"
	case tokPunct:
		return "punctuation"
	case tokPlaceholder:
		return "saved query reference"
	}
	return "token"
}

// token: Text é a forma renderizada; Value é o conteúdo já interpretado (string sem aspas, id da saved query).
type token struct {
	Kind  tokenKind
	Text  string
	Value string
}

const (
	placeholderOpen   = "{{QueryID="
	placeholderClose  = "}}"
	maxFragmentTokens = 6
)

func (t token) is(kind tokenKind, text string) bool {
	return t.Kind == kind && t.Text == text
}

func (t token) isKeyword(word string) bool {
	return t.Kind == tokIdent && strings.EqualFold(t.Text, word)
}

func identTok(text string) token { return token{Kind: tokIdent, Text: text, Value: text} }
func punctTok(text string) token { return token{Kind: tokPunct, Text: text, Value: text} }
func opTok(text string) token { return token{Kind: tokOperator, Text: text, Value: text} }
func stringTok(value string) token { return token{Kind: tokString, Text: strconv.Quote(value), Value: value} }
func numberTok(n int64) token {
	s := strconv.FormatInt(n, 10)
	return token{Kind: tokNumber, Text: s, Value: s}
}

// tokenize quebra a expressão em tokens. Strings aceitam aspas simples ou duplas com escapes de barra.
func tokenize(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)

	for i := 0; i < len(runes); {
		c := runes[i]

		switch {
		case unicode.IsSpace(c):
			i++

		case strings.HasPrefix(string(runes[i:]), placeholderOpen):
			rest := string(runes[i+len([]rune(placeholderOpen)):])
			end := strings.Index(rest, placeholderClose)
			if end < 0 {
				return nil, domain.NewCompileError(string(runes[i:]), "unterminated saved query reference")
			}
			id := strings.TrimSpace(rest[:end])
			text := placeholderOpen + id + placeholderClose
			tokens = append(tokens, token{Kind: tokPlaceholder, Text: text, Value: id})
			i += len([]rune(placeholderOpen)) + len([]rune(rest[:end])) + len([]rune(placeholderClose))

		case c == '"' || c == '\'':
			value, n, err := readString(runes[i:])
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, stringTok(value))
			i += n

		case unicode.IsDigit(c):
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			number := string(runes[i:j])
			if j < len(runes) && strings.ContainsRune("hdw", runes[j]) && (j+1 == len(runes) || !isIdentRune(runes[j+1])) {
				tokens = append(tokens, token{Kind: tokDuration, Text: number + string(runes[j]), Value: number + string(runes[j])})
				i = j + 1
				continue
			}
			if _, err := strconv.ParseFloat(number, 64); err != nil {
				return nil, domain.NewCompileError(number, "malformed number")
			}
			tokens = append(tokens, token{Kind: tokNumber, Text: number, Value: number})
			i = j

		case isIdentStart(c):
			j := i
			for j < len(runes) && isIdentRune(runes[j]) {
				j++
			}
			tokens = append(tokens, identTok(string(runes[i:j])))
			i = j

		case strings.ContainsRune("=!<>", c):
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, opTok(string(runes[i:i+2])))
				i += 2
				continue
			}
			if c == '=' || c == '!' {
				return nil, domain.NewCompileError(fragmentAround(runes, i), "unknown operator %q", string(c))
			}
			tokens = append(tokens, opTok(string(c)))
			i++

		case c == '+' || c == '-':
			tokens = append(tokens, opTok(string(c)))
			i++

		case strings.ContainsRune("()[]{},:", c):
			tokens = append(tokens, punctTok(string(c)))
			i++

		default:
			return nil, domain.NewCompileError(fragmentAround(runes, i), "unexpected character %q", string(c))
		}
	}

	return tokens, nil
}

func readString(runes []rune) (string, int, error) {
	quote := runes[0]
	var b strings.Builder
	for i := 1; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\\' && i+1 < len(runes):
			i++
			switch runes[i] {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(runes[i])
			}
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteRune(c)
		}
	}
	return "", 0, domain.NewCompileError(string(runes), "unterminated string")
}

func isIdentStart(c rune) bool {
	return unicode.IsLetter(c) || c == '_' || c == '$'
}

func isIdentRune(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '.' || c == '$'
}

func fragmentAround(runes []rune, at int) string {
	end := at + 20
	if end > len(runes) {
		end = len(runes)
	}
	return string(runes[at:end])
}

// render devolve a forma textual canônica dos tokens; é a chave do cache.
func render(tokens []token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.Text
	}
	return strings.Join(parts, " ")
}

// fragment renders a short window of tokens starting at i, for error messages.
func fragment(tokens []token, i int) string {
	if i >= len(tokens) {
		if len(tokens) == 0 {
			return ""
		}
		i = len(tokens) - 1
	}
	end := i + maxFragmentTokens
	if end > len(tokens) {
		end = len(tokens)
	}
	return render(tokens[i:end])
}

// matchingClose returns the index of the bracket closing the one at open, or -1.
func matchingClose(tokens []token, open int) int {
	pairs := map[string]string{"(": ")", "[": "]", "{": "}"}
	closing, ok := pairs[tokens[open].Text]
	if !ok || tokens[open].Kind != tokPunct {
		return -1
	}
	depth := 0
	for i := open; i < len(tokens); i++ {
		t := tokens[i]
		if t.Kind != tokPunct {
			continue
		}
		if _, isOpen := pairs[t.Text]; isOpen {
			depth++
			continue
		}
		if t.Text == ")" || t.Text == "]" || t.Text == "}" {
			depth--
			if depth == 0 {
				if t.Text != closing {
					return -1
				}
				return i
			}
		}
	}
	return -1
}
