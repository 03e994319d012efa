package aql

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"axoncore/src/domain"
)

// compareMarker carries parsed COMPARE specs until they are expanded into $where.
const compareMarker = "$__compare"

// funcValue é o valor de uma função do lado direito de uma comparação (regex, exists, match...).
type funcValue struct {
	name string
	arg  any
}

type parser struct {
	tokens []token
	pos    int
}

// parse transforma os tokens já expandidos na query nativa. Entrada vazia casa com tudo.
func parse(tokens []token) (bson.M, error) {
	if len(tokens) == 0 {
		return bson.M{}, nil
	}

	p := &parser{tokens: tokens}
	query, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, p.errorf("unexpected %s", p.peek().Kind)
	}
	return query, nil
}

func (p *parser) done() bool { return p.pos >= len(p.tokens) }

func (p *parser) peek() token {
	if p.done() {
		return token{}
	}
	return p.tokens[p.pos]
}

func (p *parser) peekAt(offset int) token {
	if p.pos+offset >= len(p.tokens) {
		return token{}
	}
	return p.tokens[p.pos+offset]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	if p.done() {
		return domain.NewCompileError(fragment(p.tokens, len(p.tokens)-1), "unexpected end of query: "+format, args...)
	}
	return domain.NewCompileError(fragment(p.tokens, p.pos), format, args...)
}

func (p *parser) expect(kind tokenKind, text string) error {
	if !p.peek().is(kind, text) {
		return p.errorf("expected %q", text)
	}
	p.pos++
	return nil
}

func (p *parser) parseOr() (bson.M, error) {
	return p.parseChain("or", "$or", p.parseAnd)
}

func (p *parser) parseAnd() (bson.M, error) {
	return p.parseChain("and", "$and", p.parseUnary)
}

func (p *parser) parseChain(keyword, operator string, operand func() (bson.M, error)) (bson.M, error) {
	first, err := operand()
	if err != nil {
		return nil, err
	}
	if !p.peek().isKeyword(keyword) {
		return first, nil
	}

	terms := bson.A{first}
	for p.peek().isKeyword(keyword) {
		p.next()
		term, err := operand()
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	return bson.M{operator: terms}, nil
}

func (p *parser) parseUnary() (bson.M, error) {
	if p.peek().isKeyword("not") && !p.peekAt(1).isKeyword("in") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return bson.M{"$not": operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (bson.M, error) {
	t := p.peek()
	switch {
	case p.done():
		return nil, p.errorf("expected an expression")

	case t.is(tokPunct, "("):
		p.next()
		if p.peek().is(tokPunct, ")") {
			p.next()
			return bson.M{}, nil
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokPunct, ")"); err != nil {
			return nil, err
		}
		return inner, nil

	case t.Kind == tokPlaceholder:
		return nil, p.errorf("unresolved saved query reference %s", t.Text)

	case (t.is(tokIdent, "COMPARE") || t.is(tokIdent, "MULTI_COMPARE")) && p.peekAt(1).is(tokPunct, "("):
		return p.parseCompareMacro()

	case t.Kind == tokIdent:
		return p.parseComparison()
	}

	return nil, p.errorf("unexpected %s", t.Kind)
}

var comparisonOperators = map[string]string{
	"!=": "$ne",
	">":  "$gt",
	">=": "$gte",
	"<":  "$lt",
	"<=": "$lte",
}

func (p *parser) parseComparison() (bson.M, error) {
	field := p.next().Text
	op := p.peek()

	switch {
	case op.isKeyword("in"):
		p.next()
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return bson.M{field: bson.M{"$in": list}}, nil

	case op.isKeyword("not") && p.peekAt(1).isKeyword("in"):
		p.pos += 2
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return bson.M{field: bson.M{"$nin": list}}, nil

	case op.Kind == tokOperator && (op.Text == "==" || comparisonOperators[op.Text] != ""):
		p.next()
	default:
		return nil, p.errorf("expected a comparison operator after %q", field)
	}

	value, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	fn, isFunc := value.(funcValue)
	switch {
	case !isFunc && op.Text == "==":
		return bson.M{field: value}, nil
	case !isFunc:
		return bson.M{field: bson.M{comparisonOperators[op.Text]: value}}, nil
	}

	if op.Text != "==" && op.Text != "!=" {
		return nil, domain.NewCompileError(field+" "+op.Text+" "+fn.name+"(...)", "%s() only supports == and !=", fn.name)
	}
	negate := op.Text == "!="

	switch fn.name {
	case "regex":
		if negate {
			return bson.M{field: bson.M{"$not": fn.arg}}, nil
		}
		return bson.M{field: fn.arg}, nil
	case "exists":
		return bson.M{field: bson.M{"$exists": fn.arg.(bool) != negate}}, nil
	case "match":
		condition := bson.M{field: bson.M{"$elemMatch": fn.arg}}
		if negate {
			return bson.M{"$not": condition}, nil
		}
		return condition, nil
	}

	operator := bson.M{"$" + fn.name: fn.arg}
	if negate {
		return bson.M{field: bson.M{"$not": operator}}, nil
	}
	return bson.M{field: operator}, nil
}

func (p *parser) parseList() (bson.A, error) {
	if err := p.expect(tokPunct, "["); err != nil {
		return nil, err
	}
	list := bson.A{}
	for !p.peek().is(tokPunct, "]") {
		if len(list) > 0 {
			if err := p.expect(tokPunct, ","); err != nil {
				return nil, err
			}
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if _, isFunc := v.(funcValue); isFunc {
			return nil, p.errorf("functions are not allowed inside lists")
		}
		list = append(list, v)
	}
	p.next()
	return list, nil
}

func (p *parser) parseValue() (any, error) {
	t := p.peek()
	switch {
	case t.Kind == tokString:
		p.next()
		return t.Value, nil

	case t.Kind == tokNumber:
		p.next()
		return parseNumber(t.Value), nil

	case t.is(tokOperator, "-") && p.peekAt(1).Kind == tokNumber:
		p.next()
		switch n := parseNumber(p.next().Value).(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}

	case t.is(tokPunct, "["):
		return p.parseList()

	case t.is(tokPunct, "{"):
		return p.parseObject()

	case t.isKeyword("true"), t.isKeyword("false"):
		p.next()
		return strings.EqualFold(t.Text, "true"), nil

	case t.isKeyword("null"):
		p.next()
		return nil, nil

	case t.Kind == tokIdent && p.peekAt(1).is(tokPunct, "("):
		return p.parseFunction()
	}

	return nil, p.errorf("expected a value")
}

func parseNumber(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func (p *parser) parseObject() (bson.M, error) {
	if err := p.expect(tokPunct, "{"); err != nil {
		return nil, err
	}
	object := bson.M{}
	for !p.peek().is(tokPunct, "}") {
		if len(object) > 0 {
			if err := p.expect(tokPunct, ","); err != nil {
				return nil, err
			}
		}
		key := p.next()
		if key.Kind != tokString && key.Kind != tokIdent {
			return nil, p.errorf("expected an object key")
		}
		if err := p.expect(tokPunct, ":"); err != nil {
			return nil, err
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		object[key.Value] = v
	}
	p.next()
	return object, nil
}

func (p *parser) parseFunction() (any, error) {
	name := strings.ToLower(p.next().Text)
	start := p.pos - 1
	p.next() // (

	var value any
	switch name {
	case "regex":
		pattern := p.next()
		if pattern.Kind != tokString {
			return nil, p.errorf("regex() expects a string pattern")
		}
		options := ""
		if p.peek().is(tokPunct, ",") {
			p.next()
			o := p.next()
			if o.Kind != tokString {
				return nil, p.errorf("regex() options must be a string")
			}
			options = o.Value
		}
		value = funcValue{name: name, arg: primitive.Regex{Pattern: pattern.Value, Options: options}}

	case "exists":
		b, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		flag, ok := b.(bool)
		if !ok {
			return nil, p.errorf("exists() expects true or false")
		}
		value = funcValue{name: name, arg: flag}

	case "date":
		raw, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		ts, err := toDate(raw)
		if err != nil {
			return nil, domain.NewCompileError(fragment(p.tokens, start), "%s", err.Error())
		}
		value = ts

	case "match":
		if err := p.expect(tokPunct, "["); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokPunct, "]"); err != nil {
			return nil, err
		}
		value = funcValue{name: name, arg: inner}

	case "size":
		n, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if _, ok := n.(int64); !ok {
			return nil, p.errorf("size() expects an integer")
		}
		value = funcValue{name: name, arg: n}

	case "type":
		t, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		value = funcValue{name: name, arg: t}

	case "all":
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		value = funcValue{name: name, arg: list}

	default:
		return nil, domain.NewCompileError(fragment(p.tokens, start), "unknown function %s()", name)
	}

	if err := p.expect(tokPunct, ")"); err != nil {
		return nil, err
	}
	return value, nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// epochMillisThreshold: abaixo disso o número é lido como segundos.
const epochMillisThreshold = 1e11

func toDate(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot read %q as a date", v)
	case int64:
		if math.Abs(float64(v)) < epochMillisThreshold {
			return time.Unix(v, 0).UTC(), nil
		}
		return time.UnixMilli(v).UTC(), nil
	case float64:
		if math.Abs(v) < epochMillisThreshold {
			return time.Unix(0, int64(v*float64(time.Second))).UTC(), nil
		}
		return time.UnixMilli(int64(v)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cannot read %v as a date", raw)
}
