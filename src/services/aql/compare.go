package aql

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"axoncore/src/domain"
)

var compareOperators = map[string]string{
	"==": "===",
	"!=": "!==",
	">":  ">",
	">=": ">=",
	"<":  "<",
	"<=": "<=",
}

// parseCompareMacro lê COMPARE(a [+|- N(h|d|w)] op b) e MULTI_COMPARE([..], [..]); o segundo é uma conjunção.
func (p *parser) parseCompareMacro() (bson.M, error) {
	multi := p.next().Text == "MULTI_COMPARE"
	p.next() // (

	specs := bson.A{}
	if !multi {
		spec, err := p.parseCompareSpec()
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	} else {
		for {
			if err := p.expect(tokPunct, "["); err != nil {
				return nil, err
			}
			spec, err := p.parseCompareSpec()
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
			if err := p.expect(tokPunct, "]"); err != nil {
				return nil, err
			}
			if !p.peek().is(tokPunct, ",") {
				break
			}
			p.next()
		}
	}

	if err := p.expect(tokPunct, ")"); err != nil {
		return nil, err
	}
	return bson.M{compareMarker: specs}, nil
}

func (p *parser) parseCompareSpec() (bson.M, error) {
	leftPlugin, leftPath, err := p.parseCompareSide()
	if err != nil {
		return nil, err
	}

	var offsetMillis int64
	if sign := p.peek(); sign.is(tokOperator, "+") || sign.is(tokOperator, "-") {
		p.next()
		d := p.next()
		if d.Kind != tokDuration {
			return nil, p.errorf("COMPARE offset must be a number followed by h, d or w")
		}
		offset, err := parseDuration(d.Value)
		if err != nil {
			return nil, p.errorf("%s", err.Error())
		}
		offsetMillis = offset.Milliseconds()
		if sign.Text == "-" {
			offsetMillis = -offsetMillis
		}
	}

	op := p.next()
	if _, ok := compareOperators[op.Text]; !ok || op.Kind != tokOperator {
		return nil, p.errorf("COMPARE expects a comparison operator")
	}

	rightPlugin, rightPath, err := p.parseCompareSide()
	if err != nil {
		return nil, err
	}

	return bson.M{
		"left_plugin":  leftPlugin,
		"left_path":    leftPath,
		"offset_ms":    offsetMillis,
		"op":           op.Text,
		"right_plugin": rightPlugin,
		"right_path":   rightPath,
	}, nil
}

func (p *parser) parseCompareSide() (string, string, error) {
	t := p.next()
	rest, ok := strings.CutPrefix(t.Text, "adapters_data.")
	plugin, path, hasPath := strings.Cut(rest, ".")
	if t.Kind != tokIdent || !ok || !hasPath || plugin == "" || path == "" {
		p.pos--
		return "", "", p.errorf("COMPARE sides must be adapters_data.<plugin>.<field>")
	}
	return plugin, path, nil
}

// expandCompare troca os marcadores de COMPARE por um $where avaliado no servidor.
func expandCompare(query bson.M) (bson.M, error) {
	out := bson.M{}
	for k, v := range query {
		switch k {
		case compareMarker:
			specs, _ := v.(bson.A)
			js, err := compareFunction(specs)
			if err != nil {
				return nil, err
			}
			out["$where"] = js
		case "$and", "$or", "$nor":
			list, err := mapQueries(v, expandCompare)
			if err != nil {
				return nil, err
			}
			out[k] = list
		default:
			out[k] = v
		}
	}
	return out, nil
}

const compareFunctionHeader = `function() {
  var pick = function(doc, plugin, path) {
    var entries = doc.specific_data || [];
    for (var i = 0; i < entries.length; i++) {
      var e = entries[i];
      if (e.plugin_name !== plugin || e.pending_delete === true) { continue; }
      var v = e.data;
      var parts = path.split(".");
      for (var j = 0; j < parts.length && v !== undefined && v !== null; j++) { v = v[parts[j]]; }
      if (v instanceof Date) {
        var d = new Date(v.getTime());
        d.setUTCHours(0, 0, 0, 0);
        return d.getTime();
      }
    }
    return null;
  };
  var l, r;
`

// compareFunction gera o JS: cada lado é normalizado para meia-noite e a ausência de data dá false.
func compareFunction(specs bson.A) (string, error) {
	var b strings.Builder
	b.WriteString(compareFunctionHeader)

	for _, raw := range specs {
		spec, ok := raw.(bson.M)
		if !ok {
			return "", domain.NewCompileError("COMPARE", "malformed comparison")
		}
		op, ok := compareOperators[fmt.Sprint(spec["op"])]
		if !ok {
			return "", domain.NewCompileError("COMPARE", "unknown operator %v", spec["op"])
		}

		fmt.Fprintf(&b, "  l = pick(this, %s, %s);\n", jsString(spec["left_plugin"]), jsString(spec["left_path"]))
		fmt.Fprintf(&b, "  r = pick(this, %s, %s);\n", jsString(spec["right_plugin"]), jsString(spec["right_path"]))
		b.WriteString("  if (l === null || r === null) { return false; }\n")
		fmt.Fprintf(&b, "  if (!((l + %d) %s r)) { return false; }\n", spec["offset_ms"], op)
	}

	b.WriteString("  return true;\n}")
	return b.String(), nil
}

func jsString(v any) string {
	b, _ := json.Marshal(fmt.Sprint(v))
	return string(b)
}
