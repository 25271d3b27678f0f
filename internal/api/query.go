package api

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"mdcatalog/internal/model"
	"mdcatalog/internal/store"
)

// Query keys that never name a field. The underscore forms are aliases.
var reservedParams = map[string]bool{
	"q": true, "limit": true, "offset": true, "sort": true,
	"_limit": true, "_offset": true, "_sort": true,
	"blocked": true, "strict": true,
}

func first(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

// parseListParams reads limit/offset/sort/q/blocked and field filters:
//
//	code=AS            eq
//	code=AS&code=LI    in (repeated)
//	code__in=AS,LI     in
//	code=in:AS,LI      in
//	rate__gte=10       range
//	sort=-rate,code    descending rate, then code
func parseListParams(q url.Values) (store.Filter, error) {
	var f store.Filter

	if lv := first(q, "limit", "_limit"); lv != "" {
		n, err := strconv.Atoi(lv)
		if err != nil || n < 0 {
			return f, &model.QueryError{Param: "limit", Reason: fmt.Sprintf("%q is not a non-negative integer", lv)}
		}
		f.Limit = n
	}
	if ov := first(q, "offset", "_offset"); ov != "" {
		n, err := strconv.Atoi(ov)
		if err != nil || n < 0 {
			return f, &model.QueryError{Param: "offset", Reason: fmt.Sprintf("%q is not a non-negative integer", ov)}
		}
		f.Offset = n
	}

	if sv := first(q, "sort", "_sort"); sv != "" {
		for _, p := range strings.Split(sv, ",") {
			p = strings.TrimSpace(p)
			desc := false
			if strings.HasPrefix(p, "-") {
				desc = true
				p = strings.TrimPrefix(p, "-")
			} else if strings.HasPrefix(p, "+") {
				p = strings.TrimPrefix(p, "+")
			}
			if p != "" {
				f.Sort = append(f.Sort, store.SortKey{Field: p, Desc: desc})
			}
		}
	}

	f.Q = strings.TrimSpace(q.Get("q"))
	if bv := first(q, "blocked"); bv != "" {
		b, err := strconv.ParseBool(bv)
		if err != nil {
			return f, &model.QueryError{Param: "blocked", Reason: "expected true or false"}
		}
		f.Blocked = &b
	}

	// map iteration order is random; keep conditions stable
	keys := make([]string, 0, len(q))
	for key := range q {
		if !reservedParams[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		if c, ok := buildCond(key, q[key]); ok {
			f.Conds = append(f.Conds, c)
		}
	}
	return f, nil
}

func buildCond(key string, vals []string) (store.Cond, bool) {
	field, op := key, store.OpEq
	if i := strings.LastIndex(key, "__"); i > 0 {
		field, op = key[:i], key[i+2:]
	}

	var clean []string
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return store.Cond{}, false
	}
	if op == store.OpEq && strings.HasPrefix(clean[0], "in:") {
		op = store.OpIn
		clean[0] = strings.TrimPrefix(clean[0], "in:")
	}
	if op == store.OpEq && len(clean) > 1 {
		op = store.OpIn
	}

	if op == store.OpIn {
		var parts []string
		for _, v := range clean {
			for _, p := range strings.Split(v, ",") {
				if p = strings.TrimSpace(p); p != "" {
					parts = append(parts, p)
				}
			}
		}
		clean = parts
	} else {
		clean = clean[:1]
	}
	return store.Cond{Field: field, Op: op, Values: clean}, true
}
