package aql

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
)

// rewritePass é um estágio de reescrita sobre tokens, aplicado antes do parse, na ordem de Compiler.passes.
type rewritePass struct {
	name  string
	apply func(ctx context.Context, req compileRequest, tokens []token) ([]token, error)
}

type compileRequest struct {
	reference  time.Time
	entityType *domain.EntityType
}

func (c *Compiler) passes() []rewritePass {
	return []rewritePass{
		{name: "saved_query", apply: c.expandSavedQueries},
		{name: "os_distribution", apply: rewriteOSDistribution},
		{name: "connection_label", apply: c.rewriteConnectionLabels},
		{name: "now", apply: rewriteNow},
		{name: "not_bracket", apply: rewriteNotBracket},
		{name: "date_literal", apply: rewriteDateLiteral},
	}
}

// ############################################################
// ##################### SAVED QUERIES ########################
// ############################################################

const maxSavedQueryDepth = 10

// expandSavedQueries troca {{QueryID=<id>}} pelo filtro salvo entre parênteses e volta a procurar.
// Uma referência que não resolve interrompe a expansão e o texto parcial segue adiante; o parse
// então falha no placeholder que sobrou.
func (c *Compiler) expandSavedQueries(ctx context.Context, req compileRequest, tokens []token) ([]token, error) {
	for depth := 0; depth < maxSavedQueryDepth; depth++ {
		if !slices.ContainsFunc(tokens, func(t token) bool { return t.Kind == tokPlaceholder }) {
			return tokens, nil
		}

		out := make([]token, 0, len(tokens))
		for i, t := range tokens {
			if t.Kind != tokPlaceholder {
				out = append(out, t)
				continue
			}

			if c.savedQueries == nil {
				return append(out, tokens[i:]...), nil
			}
			query, err := c.savedQueries.FindSavedQuery(ctx, t.Value)
			if err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					c.logger.Warn("saved query lookup failed", "query_id", t.Value, "error", err)
				}
				return append(out, tokens[i:]...), nil
			}
			if req.entityType != nil && query.EntityType != "" && query.EntityType != string(*req.entityType) {
				c.logger.Warn("saved query belongs to another entity type", "query_id", t.Value, "entity_type", query.EntityType)
				return append(out, tokens[i:]...), nil
			}

			inner, err := tokenize(query.Filter)
			if err != nil {
				return nil, fmt.Errorf("saved query %q: %w", t.Value, err)
			}
			out = append(out, punctTok("("))
			out = append(out, inner...)
			out = append(out, punctTok(")"))
		}
		tokens = out
	}
	return tokens, nil
}

// ############################################################
// #################### OS DISTRIBUTION #######################
// ############################################################

// windowsDistributions está do mais novo para o mais antigo.
var windowsDistributions = []string{
	"11",
	"10",
	"Server 2022",
	"Server 2019",
	"Server 2016",
	"Server 2012 R2",
	"Server 2012",
	"8.1",
	"8",
	"Server 2008 R2",
	"7",
	"Server 2008",
	"Vista",
	"Server 2003 R2",
	"Server 2003",
	"XP",
	"2000",
}

const distributionField = "os.distribution"

// rewriteOSDistribution: `os.distribution > "X"` vira `in [...]` com as versões mais novas que X,
// `<` com as mais antigas; >= e <= incluem X.
func rewriteOSDistribution(_ context.Context, _ compileRequest, tokens []token) ([]token, error) {
	out := make([]token, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if t.Kind != tokIdent || !strings.HasSuffix(t.Text, distributionField) || i+2 >= len(tokens) {
			out = append(out, t)
			continue
		}

		op, version := tokens[i+1], tokens[i+2]
		if op.Kind != tokOperator || !slices.Contains([]string{">", ">=", "<", "<="}, op.Text) || version.Kind != tokString {
			out = append(out, t)
			continue
		}

		at := slices.Index(windowsDistributions, version.Value)
		if at < 0 {
			return nil, domain.NewCompileError(fragment(tokens, i), "unknown OS distribution %q", version.Value)
		}

		var members []string
		switch op.Text {
		case ">":
			members = windowsDistributions[:at]
		case ">=":
			members = windowsDistributions[:at+1]
		case "<":
			members = windowsDistributions[at+1:]
		case "<=":
			members = windowsDistributions[at:]
		}

		out = append(out, t, identTok("in"), punctTok("["))
		for j, m := range members {
			if j > 0 {
				out = append(out, punctTok(","))
			}
			out = append(out, stringTok(m))
		}
		out = append(out, punctTok("]"))
		i += 2
	}
	return out, nil
}

// ############################################################
// #################### CONNECTION LABEL ######################
// ############################################################

const connectionLabelField = "connection_label"

type matchScope struct {
	end    int
	plugin string
}

// rewriteConnectionLabels resolve connection_label contra as conexões configuradas. Dentro de um
// match([...]) que fixa plugin_name, só as conexões daquele plugin contam.
func (c *Compiler) rewriteConnectionLabels(ctx context.Context, _ compileRequest, tokens []token) ([]token, error) {
	if !slices.ContainsFunc(tokens, isConnectionLabelField) {
		return tokens, nil
	}

	var connections []entities.ClientConnection
	if c.connectionLabels != nil {
		var err error
		connections, err = c.connectionLabels.ListClientConnections(ctx)
		if err != nil {
			return nil, fmt.Errorf("Compiler.rewriteConnectionLabels - failed to load connections: %w", err)
		}
	}

	var scopes []matchScope
	out := make([]token, 0, len(tokens))

	for i := 0; i < len(tokens); i++ {
		for len(scopes) > 0 && i > scopes[len(scopes)-1].end {
			scopes = scopes[:len(scopes)-1]
		}

		t := tokens[i]
		if t.isKeyword("match") && i+2 < len(tokens) && tokens[i+1].is(tokPunct, "(") && tokens[i+2].is(tokPunct, "[") {
			if end := matchingClose(tokens, i+2); end > 0 {
				scopes = append(scopes, matchScope{end: end, plugin: scopedPlugin(tokens[i+3 : end])})
			}
		}

		if !isConnectionLabelField(t) {
			out = append(out, t)
			continue
		}

		labels, negate, consumed, err := connectionLabelCondition(tokens, i)
		if err != nil {
			return nil, err
		}

		inMatch := len(scopes) > 0
		plugin := ""
		if inMatch {
			plugin = scopes[len(scopes)-1].plugin
		}
		if prefix := strings.TrimSuffix(t.Text, connectionLabelField); prefix != "" && prefix != "specific_data." {
			p, ok := strings.CutPrefix(prefix, "adapters_data.")
			if !ok || inMatch {
				return nil, domain.NewCompileError(fragment(tokens, i), "connection_label is not supported under %q", prefix)
			}
			plugin = strings.TrimSuffix(p, ".")
		}

		out = append(out, connectionLabelTokens(connections, labels, negate, plugin, inMatch)...)
		i += consumed - 1
	}

	return out, nil
}

func isConnectionLabelField(t token) bool {
	return t.Kind == tokIdent && (t.Text == connectionLabelField || strings.HasSuffix(t.Text, "."+connectionLabelField))
}

// scopedPlugin procura `plugin_name == "X"` no nível de cima do corpo de um match.
func scopedPlugin(body []token) string {
	depth := 0
	for i, t := range body {
		if t.Kind == tokPunct {
			switch t.Text {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			}
			continue
		}
		if depth == 0 && t.is(tokIdent, "plugin_name") && i+2 < len(body) && body[i+1].is(tokOperator, "==") && body[i+2].Kind == tokString {
			return body[i+2].Value
		}
	}
	return ""
}

// connectionLabelCondition lê a comparação depois do campo. labels nil significa "qualquer label".
func connectionLabelCondition(tokens []token, i int) (labels []string, negate bool, consumed int, err error) {
	bad := domain.NewCompileError(fragment(tokens, i), "unsupported connection_label comparison")
	if i+2 >= len(tokens) {
		return nil, false, 0, bad
	}

	op, value := tokens[i+1], tokens[i+2]
	switch {
	case (op.is(tokOperator, "==") || op.is(tokOperator, "!=")) && value.Kind == tokString:
		return []string{value.Value}, op.Text == "!=", 3, nil

	case op.is(tokOperator, "==") && value.isKeyword("exists"):
		if i+5 >= len(tokens) || !tokens[i+3].is(tokPunct, "(") || !tokens[i+5].is(tokPunct, ")") {
			return nil, false, 0, bad
		}
		switch strings.ToLower(tokens[i+4].Text) {
		case "true":
			return nil, false, 6, nil
		case "false":
			return nil, true, 6, nil
		}
		return nil, false, 0, bad

	case op.isKeyword("in"), op.isKeyword("not") && value.isKeyword("in"):
		open := i + 2
		negate = op.isKeyword("not")
		if negate {
			open++
		}
		if open >= len(tokens) || !tokens[open].is(tokPunct, "[") {
			return nil, false, 0, bad
		}
		end := matchingClose(tokens, open)
		if end < 0 {
			return nil, false, 0, bad
		}
		labels = []string{}
		for _, t := range tokens[open+1 : end] {
			switch {
			case t.Kind == tokString:
				labels = append(labels, t.Value)
			case t.is(tokPunct, ","):
			default:
				return nil, false, 0, bad
			}
		}
		return labels, negate, end - i + 1, nil
	}

	return nil, false, 0, bad
}

func connectionLabelTokens(connections []entities.ClientConnection, labels []string, negate bool, plugin string, inMatch bool) []token {
	var disjunction []token
	for _, conn := range connections {
		if plugin != "" && conn.PluginName != plugin {
			continue
		}
		if conn.Label == "" || (labels != nil && !slices.Contains(labels, conn.Label)) {
			continue
		}
		if len(disjunction) > 0 {
			disjunction = append(disjunction, identTok("or"))
		}
		disjunction = append(disjunction,
			punctTok("("),
			identTok("client_used"), opTok("=="), stringTok(conn.ClientID),
			identTok("and"),
			identTok("plugin_unique_name"), opTok("=="), stringTok(conn.PluginUniqueName),
			punctTok(")"),
		)
	}
	if len(disjunction) == 0 {
		disjunction = []token{identTok("client_used"), identTok("in"), punctTok("["), punctTok("]")}
	}

	condition := append([]token{punctTok("(")}, disjunction...)
	condition = append(condition, punctTok(")"))

	if !inMatch {
		body := condition
		if plugin != "" {
			body = append([]token{identTok("plugin_name"), opTok("=="), stringTok(plugin), identTok("and")}, condition...)
		}
		condition = append([]token{identTok("specific_data"), opTok("=="), identTok("match"), punctTok("("), punctTok("[")}, body...)
		condition = append(condition, punctTok("]"), punctTok(")"))
	}

	if negate {
		condition = append([]token{identTok("not"), punctTok("(")}, condition...)
		condition = append(condition, punctTok(")"))
	}
	return condition
}

// ############################################################
// ########################## NOW #############################
// ############################################################

// rewriteNow troca `NOW [+|- N(h|d|w)]` por date(<epoch-seconds>) relativo à data de referência.
func rewriteNow(_ context.Context, req compileRequest, tokens []token) ([]token, error) {
	out := make([]token, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if !t.isKeyword("NOW") {
			out = append(out, t)
			continue
		}

		at := req.reference
		if i+1 < len(tokens) && (tokens[i+1].is(tokOperator, "-") || tokens[i+1].is(tokOperator, "+")) {
			if i+2 >= len(tokens) || tokens[i+2].Kind != tokDuration {
				return nil, domain.NewCompileError(fragment(tokens, i), "NOW offset must be a number followed by h, d or w")
			}
			offset, err := parseDuration(tokens[i+2].Value)
			if err != nil {
				return nil, domain.NewCompileError(fragment(tokens, i), "%s", err.Error())
			}
			if tokens[i+1].Text == "-" {
				offset = -offset
			}
			at = at.Add(offset)
			i += 2
		}

		out = append(out, identTok("date"), punctTok("("), numberTok(at.Unix()), punctTok(")"))
	}
	return out, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	n, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed duration %q", s)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown duration unit in %q", s)
	}
	return time.Duration(n * float64(unit)), nil
}

// ############################################################
// ###################### NOT / $date #########################
// ############################################################

// rewriteNotBracket: `NOT [expr]` vira `not (expr)`.
func rewriteNotBracket(_ context.Context, _ compileRequest, tokens []token) ([]token, error) {
	out := slices.Clone(tokens)
	for i := 0; i+1 < len(out); i++ {
		if !out[i].is(tokIdent, "NOT") || !out[i+1].is(tokPunct, "[") {
			continue
		}
		end := matchingClose(out, i+1)
		if end < 0 {
			return nil, domain.NewCompileError(fragment(out, i), "unbalanced NOT [")
		}
		out[i] = identTok("not")
		out[i+1] = punctTok("(")
		out[end] = punctTok(")")
	}
	return out, nil
}

// rewriteDateLiteral: `{"$date": v}` vira `date(v)`.
func rewriteDateLiteral(_ context.Context, _ compileRequest, tokens []token) ([]token, error) {
	out := make([]token, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		if i+3 < len(tokens) && tokens[i].is(tokPunct, "{") && tokens[i+1].Kind == tokString && tokens[i+1].Value == "$date" && tokens[i+2].is(tokPunct, ":") {
			end := matchingClose(tokens, i)
			if end < 0 {
				return nil, domain.NewCompileError(fragment(tokens, i), "unbalanced date literal")
			}
			inner, err := rewriteDateLiteral(context.Background(), compileRequest{}, tokens[i+3:end])
			if err != nil {
				return nil, err
			}
			out = append(out, identTok("date"), punctTok("("))
			out = append(out, inner...)
			out = append(out, punctTok(")"))
			i = end
			continue
		}
		out = append(out, tokens[i])
	}
	return out, nil
}
