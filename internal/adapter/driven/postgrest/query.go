package postgrest

import (
	"net/url"
	"strings"

	"github.com/ericfisherdev/studiopanel/internal/domain/model"
)

// filterParams renders an equality match as PostgREST horizontal filters
// (col=eq.value). A nil value filters on IS NULL.
func filterParams(m model.Match) url.Values {
	params := url.Values{}
	for field, v := range m {
		if v == nil {
			params.Set(field, "is.null")
			continue
		}
		params.Set(field, "eq."+model.FormatScalar(v))
	}
	return params
}

// orderParam renders ordering clauses as order=a.asc,b.desc.
func orderParam(order []model.Order) string {
	parts := make([]string, 0, len(order))
	for _, o := range order {
		dir := "asc"
		if o.Descending {
			dir = "desc"
		}
		parts = append(parts, o.Field+"."+dir)
	}
	return strings.Join(parts, ",")
}
