package aql

import (
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"axoncore/src/domain"
)

func mapQueries(v any, fn func(bson.M) (bson.M, error)) (bson.A, error) {
	list, _ := v.(bson.A)
	out := make(bson.A, len(list))
	for i, item := range list {
		q, ok := item.(bson.M)
		if !ok {
			out[i] = item
			continue
		}
		rewritten, err := fn(q)
		if err != nil {
			return nil, err
		}
		out[i] = rewritten
	}
	return out, nil
}

// normalizeNegation troca o $not lógico por $nor, recursivamente. O $not de operador
// (campo: {$not: ...}) é válido no store e fica.
func normalizeNegation(query bson.M) (bson.M, error) {
	out := bson.M{}
	for k, v := range query {
		switch k {
		case "$not":
			inner, _ := v.(bson.M)
			normalized, err := normalizeNegation(inner)
			if err != nil {
				return nil, err
			}
			out["$nor"] = bson.A{normalized}
		case "$and", "$or", "$nor":
			list, err := mapQueries(v, normalizeNegation)
			if err != nil {
				return nil, err
			}
			out[k] = list
		default:
			cond, isDoc := v.(bson.M)
			if !isDoc {
				out[k] = v
				continue
			}
			if elem, ok := cond["$elemMatch"].(bson.M); ok {
				normalized, err := normalizeNegation(elem)
				if err != nil {
					return nil, err
				}
				out[k] = bson.M{"$elemMatch": normalized}
				continue
			}
			out[k] = v
		}
	}
	return out, nil
}

const (
	specificDataPrefix = "specific_data."
	adaptersDataPrefix = "adapters_data."
	adapterCountField  = "adapter_count"
)

// fieldRewriter leva os caminhos lógicos (specific_data.*, adapters_data.<plugin>.*, adapter_count)
// para o formato armazenado da view.
type fieldRewriter struct {
	includeOutdated bool
}

func (r fieldRewriter) rewrite(query bson.M) (bson.M, error) {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rest := bson.M{}
	var parts bson.A

	for _, k := range keys {
		v := query[k]
		switch {
		case k == "$and" || k == "$or" || k == "$nor":
			list, err := mapQueries(v, r.rewrite)
			if err != nil {
				return nil, err
			}
			rest[k] = list

		case strings.HasPrefix(k, specificDataPrefix):
			part, err := r.negatable(k, v, r.specificData)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)

		case strings.HasPrefix(k, adaptersDataPrefix):
			part, err := r.negatable(k, v, r.adaptersData)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)

		case k == adapterCountField:
			part, err := adapterCount(v)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)

		default:
			rest[k] = v
		}
	}

	switch {
	case len(parts) == 0:
		return rest, nil
	case len(parts) == 1 && len(rest) == 0:
		return parts[0].(bson.M), nil
	case len(rest) > 0:
		parts = append(bson.A{rest}, parts...)
	}
	return bson.M{"$and": parts}, nil
}

// negatable: uma condição negativa sobre um array vira "nenhum elemento casa com a positiva".
func (r fieldRewriter) negatable(field string, cond any, build func(string, any) (bson.M, error)) (bson.M, error) {
	if positive, ok := positiveOf(cond); ok {
		inner, err := build(field, positive)
		if err != nil {
			return nil, err
		}
		return bson.M{"$nor": bson.A{inner}}, nil
	}
	return build(field, cond)
}

func positiveOf(cond any) (any, bool) {
	doc, ok := cond.(bson.M)
	if !ok || len(doc) != 1 {
		return nil, false
	}
	for op, v := range doc {
		switch op {
		case "$ne":
			return v, true
		case "$nin":
			return bson.M{"$in": v}, true
		case "$not":
			return v, true
		case "$exists":
			if b, isBool := v.(bool); isBool && !b {
				return bson.M{"$exists": true}, true
			}
		}
	}
	return nil, false
}

func (r fieldRewriter) adapterFilter(elem bson.M) bson.M {
	elem["pending_delete"] = bson.M{"$ne": true}
	if _, set := elem["data._old"]; !set && !r.includeOutdated {
		elem["data._old"] = bson.M{"$ne": true}
	}
	return elem
}

func (r fieldRewriter) specificData(field string, cond any) (bson.M, error) {
	path := strings.TrimPrefix(field, specificDataPrefix)
	if path == "" {
		return nil, domain.NewCompileError(field, "missing field after specific_data")
	}

	entity := r.adapterFilter(bson.M{"type": "entitydata", path: cond})
	tag := bson.M{"type": "adapterdata", path: cond}

	return bson.M{"$or": bson.A{
		bson.M{"specific_data": bson.M{"$elemMatch": entity}},
		bson.M{"specific_data": bson.M{"$elemMatch": tag}},
	}}, nil
}

func (r fieldRewriter) adaptersData(field string, cond any) (bson.M, error) {
	plugin, path, _ := strings.Cut(strings.TrimPrefix(field, adaptersDataPrefix), ".")
	if plugin == "" {
		return nil, domain.NewCompileError(field, "missing plugin name after adapters_data")
	}

	elem := bson.M{"plugin_name": plugin}
	if path == "" {
		exists, ok := cond.(bson.M)
		if !ok || exists["$exists"] != true {
			return nil, domain.NewCompileError(field, "adapters_data.<plugin> only supports exists(true)")
		}
	} else {
		elem["data."+path] = cond
	}

	return bson.M{"specific_data": bson.M{"$elemMatch": r.adapterFilter(elem)}}, nil
}

var expressionOperators = map[string]string{
	"$ne":  "$ne",
	"$gt":  "$gt",
	"$gte": "$gte",
	"$lt":  "$lt",
	"$lte": "$lte",
	"$in":  "$in",
}

// adapterCount vira um $expr sobre o número de plugin_names distintos da view.
func adapterCount(cond any) (bson.M, error) {
	count := bson.M{"$size": bson.M{"$setUnion": bson.A{"$adapters", bson.A{}}}}

	doc, isDoc := cond.(bson.M)
	if !isDoc {
		return bson.M{"$expr": bson.M{"$eq": bson.A{count, cond}}}, nil
	}

	ops := make([]string, 0, len(doc))
	for op := range doc {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	var terms bson.A
	for _, op := range ops {
		switch op {
		case "$nin":
			terms = append(terms, bson.M{"$not": bson.A{bson.M{"$in": bson.A{count, doc[op]}}}})
		default:
			exprOp, ok := expressionOperators[op]
			if !ok {
				return nil, domain.NewCompileError(adapterCountField, "unsupported adapter_count condition %s", op)
			}
			terms = append(terms, bson.M{exprOp: bson.A{count, doc[op]}})
		}
	}

	if len(terms) == 1 {
		return bson.M{"$expr": terms[0]}, nil
	}
	return bson.M{"$expr": bson.M{"$and": terms}}, nil
}

// cloneQuery copia a árvore para que o valor em cache nunca seja compartilhado com quem chamou.
func cloneQuery(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(bson.M, len(t))
		for k, item := range t {
			out[k] = cloneQuery(item)
		}
		return out
	case bson.A:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = cloneQuery(item)
		}
		return out
	default:
		return v
	}
}
