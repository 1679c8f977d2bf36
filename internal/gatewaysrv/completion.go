package gatewaysrv

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// maxCompletionValues caps one completion response; the total still
// reports the full match count.
const maxCompletionValues = 100

// serveCompletion answers completion/complete for the surface. Prompt
// references complete an argument from the candidate values the catalog
// row declares; resource references complete against the URIs registered
// on the surface.
func (e *Engine) serveCompletion(w http.ResponseWriter, r *http.Request, sf *surface, frame rpcFrame) {
	values, err := e.complete(r.Context(), sf, frame)
	if err != nil {
		writeRPCError(w, frame.ID, err)
		return
	}
	total := len(values)
	hasMore := total > maxCompletionValues
	if hasMore {
		values = values[:maxCompletionValues]
	}
	writeRPCResult(w, frame.ID, map[string]any{
		"completion": map[string]any{
			"values":  values,
			"total":   total,
			"hasMore": hasMore,
		},
	})
}

func (e *Engine) complete(ctx context.Context, sf *surface, frame rpcFrame) ([]string, error) {
	ref := frame.Params.Ref
	arg := frame.Params.Argument
	switch ref.Type {
	case "ref/prompt":
		if !sf.hasPrompt(ref.Name) {
			return nil, notFoundError("prompt", ref.Name)
		}
		row, err := e.catalog.ResolvePrompt(ctx, sf.actor, ref.Name)
		if err != nil {
			if mcperr.IsKind(err, mcperr.KindNotFound) {
				return nil, notFoundError("prompt", ref.Name)
			}
			return nil, err
		}
		return matchPrefix(promptArgumentValues(row, arg.Name), arg.Value), nil
	case "ref/resource":
		return matchPrefix(sf.resourceURIs(), arg.Value), nil
	default:
		return nil, mcperr.Newf(mcperr.KindInvalidRequest, "unknown completion reference type %q", ref.Type)
	}
}

// matchPrefix filters candidates to those starting with the typed value.
// Always returns a non-nil slice so the wire result is an array.
func matchPrefix(candidates []string, value string) []string {
	matched := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if strings.HasPrefix(c, value) {
			matched = append(matched, c)
		}
	}
	return matched
}

// promptArgumentValues returns the declared candidates for one prompt
// argument: the enum of the matching schema property. Federated rows
// mirror the peer's plain argument list and declare no candidates.
func promptArgumentValues(row *store.Prompt, argName string) []string {
	if len(row.ArgumentsSchema) == 0 {
		return nil
	}
	var schema struct {
		Properties map[string]struct {
			Enum []string `json:"enum"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(row.ArgumentsSchema, &schema); err != nil {
		return nil
	}
	return schema.Properties[argName].Enum
}
