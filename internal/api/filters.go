package api

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"bridgeinspect/internal/records"
)

// Query parameters that are not field filters.
var reservedParams = map[string]bool{
	"page":             true,
	"page_size":        true,
	"sort":             true,
	"include_inactive": true,
	"q":                true,
}

// parseListQuery turns URL parameters into a list request:
//
//	name=x            equals
//	name__contains=x  case-insensitive substring
//	code__in=a,b      in set
//	sort_order__gte=1 inclusive lower bound (and __lte)
//	q=x               shorthand for name__contains
//
// A field takes one predicate; __gte and __lte on the same field combine into
// one range. Repeated or conflicting parameters are rejected.
func parseListQuery(values url.Values) (records.ListQuery, error) {
	q := records.ListQuery{Filter: records.Filter{}}
	var err error
	if q.Page, err = intParam(values, "page"); err != nil {
		return q, err
	}
	if q.PageSize, err = intParam(values, "page_size"); err != nil {
		return q, err
	}
	q.Sort = values.Get("sort")
	if raw := values.Get("include_inactive"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return q, badParam("include_inactive")
		}
		q.IncludeInactive = b
	}
	if term := strings.TrimSpace(values.Get("q")); term != "" {
		q.Filter["name"] = records.Contains(term)
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		if !reservedParams[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		vals := values[key]
		if len(vals) != 1 {
			return q, badParam(key)
		}
		raw := vals[0]
		field, op, _ := strings.Cut(key, "__")
		prev, seen := q.Filter[field]
		if seen && !(prev.Op == records.OpRange && (op == "gte" || op == "lte")) {
			return q, badParam(key)
		}
		switch op {
		case "":
			q.Filter[field] = records.Eq(raw)
		case "contains":
			q.Filter[field] = records.Contains(raw)
		case "in":
			parts := strings.Split(raw, ",")
			items := make([]any, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					items = append(items, p)
				}
			}
			q.Filter[field] = records.In(items...)
		case "gte", "lte":
			pred := prev
			if !seen {
				pred = records.Predicate{Op: records.OpRange}
			}
			if op == "gte" {
				pred.Min = raw
			} else {
				pred.Max = raw
			}
			q.Filter[field] = pred
		default:
			return q, badParam(key)
		}
	}
	return q, nil
}

func intParam(values url.Values, key string) (int, error) {
	raw := values.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badParam(key)
	}
	return n, nil
}

func badParam(key string) error {
	return &paramError{key: key}
}

type paramError struct{ key string }

func (e *paramError) Error() string { return "invalid query parameter " + strconv.Quote(e.key) }

func (e *paramError) Unwrap() error { return records.ErrValidation }
