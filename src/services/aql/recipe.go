package aql

import (
	"strconv"

	"axoncore/src/domain"
)

const recipePrefix = "exists_in"

// splitRecipePrefix separa `exists_in(<run id>, <condition>, <action index>)` do começo da query.
func splitRecipePrefix(tokens []token) (*domain.RecipeRef, []token, error) {
	if len(tokens) < 2 || !tokens[0].is(tokIdent, recipePrefix) || !tokens[1].is(tokPunct, "(") {
		return nil, tokens, nil
	}

	end := matchingClose(tokens, 1)
	if end < 0 {
		return nil, nil, domain.NewCompileError(fragment(tokens, 0), "unterminated %s(...)", recipePrefix)
	}

	var args []token
	for i, t := range tokens[2:end] {
		if i%2 == 1 {
			if !t.is(tokPunct, ",") {
				return nil, nil, domain.NewCompileError(fragment(tokens, 0), "%s arguments must be separated by commas", recipePrefix)
			}
			continue
		}
		if t.Kind != tokString && t.Kind != tokIdent && t.Kind != tokNumber {
			return nil, nil, domain.NewCompileError(fragment(tokens, 0), "unexpected %s in %s(...)", t.Kind, recipePrefix)
		}
		args = append(args, t)
	}
	if len(args) != 3 || (end-2)%2 != 1 {
		return nil, nil, domain.NewCompileError(fragment(tokens, 0), "%s expects recipe run id, condition and action index", recipePrefix)
	}

	index, err := strconv.Atoi(args[2].Value)
	if err != nil {
		return nil, nil, domain.NewCompileError(fragment(tokens, 0), "action index %q is not an integer", args[2].Value)
	}

	ref := &domain.RecipeRef{
		RecipeRunID: args[0].Value,
		Condition:   args[1].Value,
		ActionIndex: index,
	}
	return ref, tokens[end+1:], nil
}
