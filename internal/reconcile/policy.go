package reconcile

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/sells-group/eci-tracker/internal/model"
)

// Policy names how one merged field is derived from the two sources.
type Policy string

const (
	// KeepPrimary takes the response value; the follow-up value is used only
	// when the response has none.
	KeepPrimary Policy = "keep_primary"
	// UnionCollection combines both collections, deduplicated by key. The
	// response entry wins on key collision.
	UnionCollection Policy = "union_collection"
	// PreferSecondary takes the follow-up value when present and may flag the
	// transition.
	PreferSecondary Policy = "prefer_secondary_with_validation"
	// LogicalOr is true when either side is true. Once set it stays set.
	LogicalOr Policy = "logical_or_boolean"
	// MaxDate takes the later date and flags a follow-up date that moved
	// backwards.
	MaxDate Policy = "max_date_with_warning"
	// LabeledConcat keeps both texts under source labels when they differ.
	LabeledConcat Policy = "labeled_concat_on_conflict"
)

// mergeFunc computes one field of out from the two sources. Either source may
// be nil. It must read nothing but p and s and write nothing but its field.
type mergeFunc func(field string, out, p, s *model.CaseRecord) []model.Warning

// Field binds a merged field to its policy.
type Field struct {
	Name   string
	Policy Policy
	merge  mergeFunc
}

// accessor returns the address of a field inside a record.
type accessor[T any] func(*model.CaseRecord) *T

func value[T any](r *model.CaseRecord, at accessor[T]) (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}
	v := *at(r)
	return v, !isEmpty(v)
}

func isEmpty(v any) bool {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	default:
		return rv.IsZero()
	}
}

func keepPrimary[T any](at accessor[T]) mergeFunc {
	return func(_ string, out, p, s *model.CaseRecord) []model.Warning {
		if v, ok := value(p, at); ok {
			*at(out) = v
		} else if v, ok := value(s, at); ok {
			*at(out) = v
		}
		return nil
	}
}

// checkFunc inspects a transition between two present values.
type checkFunc[T any] func(field string, p, s T) *model.Warning

func preferSecondary[T any](at accessor[T], check checkFunc[T]) mergeFunc {
	return func(field string, out, p, s *model.CaseRecord) []model.Warning {
		pv, pok := value(p, at)
		sv, sok := value(s, at)
		switch {
		case sok:
			*at(out) = sv
		case pok:
			*at(out) = pv
		}
		if pok && sok && check != nil {
			if w := check(field, pv, sv); w != nil {
				return []model.Warning{*w}
			}
		}
		return nil
	}
}

// statusRegression flags a follow-up status ranked below the response one.
func statusRegression(field string, p, s model.TechnicalStatus) *model.Warning {
	if !p.Valid() || !s.Valid() || !p.Outranks(s) {
		return nil
	}
	return &model.Warning{
		Field:   field,
		Code:    model.WarningStatusRegressed,
		Message: fmt.Sprintf("status moved backwards from %s to %s", p, s),
	}
}

func union[T any, K comparable](at accessor[[]T], key func(T) K) mergeFunc {
	return func(_ string, out, p, s *model.CaseRecord) []model.Warning {
		var merged []T
		seen := map[K]bool{}
		for _, r := range []*model.CaseRecord{p, s} {
			if r == nil {
				continue
			}
			for _, v := range *at(r) {
				k := key(v)
				if seen[k] {
					continue
				}
				seen[k] = true
				merged = append(merged, v)
			}
		}
		*at(out) = merged
		return nil
	}
}

// foldKey identifies URLs and citations regardless of case and spacing.
func foldKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func actionKey(a model.Action) model.ActionKey {
	return a.Key()
}

func unionSections(_ string, out, p, s *model.CaseRecord) []model.Warning {
	merged := map[string]string{}
	for _, r := range []*model.CaseRecord{s, p} {
		if r == nil {
			continue
		}
		for name, text := range r.Sections {
			merged[name] = text
		}
	}
	if len(merged) > 0 {
		out.Sections = merged
	}
	return nil
}

func logicalOr(at accessor[bool]) mergeFunc {
	return func(_ string, out, p, s *model.CaseRecord) []model.Warning {
		pv, _ := value(p, at)
		sv, _ := value(s, at)
		*at(out) = pv || sv
		return nil
	}
}

func maxDate(at accessor[*model.Date]) mergeFunc {
	return func(field string, out, p, s *model.CaseRecord) []model.Warning {
		pd, _ := value(p, at)
		sd, _ := value(s, at)
		*at(out) = model.MaxDate(pd, sd)
		if pd != nil && sd != nil && sd.Before(*pd) {
			return []model.Warning{{
				Field:   field,
				Code:    model.WarningDateRegressed,
				Message: fmt.Sprintf("follow-up date %s is earlier than response date %s", sd, pd),
			}}
		}
		return nil
	}
}

func labeledConcat(label string, at accessor[string]) mergeFunc {
	return func(_ string, out, p, s *model.CaseRecord) []model.Warning {
		pv, _ := value(p, at)
		sv, _ := value(s, at)
		*at(out) = concatLabeled(label, pv, sv)
		return nil
	}
}

// concatLabeled passes a lone or identical text through unlabeled and keeps
// two differing texts under "Original"/"Current" headers.
func concatLabeled(label, p, s string) string {
	p, s = strings.TrimSpace(p), strings.TrimSpace(s)
	switch {
	case p == "":
		return s
	case s == "" || p == s:
		return p
	}
	return "Original " + label + ":\n" + p + "\n\nCurrent " + label + ":\n" + s
}

// mergeDeadlines unions the date keys and concatenates per date.
func mergeDeadlines(_ string, out, p, s *model.CaseRecord) []model.Warning {
	var pd, sd model.Deadlines
	if p != nil {
		pd = p.Deadlines
	}
	if s != nil {
		sd = s.Deadlines
	}
	if len(pd) == 0 && len(sd) == 0 {
		return nil
	}
	merged := make(model.Deadlines, len(pd)+len(sd))
	for d, text := range pd {
		merged[d] = concatLabeled("Deadline", text, sd[d])
	}
	for d, text := range sd {
		if _, ok := merged[d]; !ok {
			merged[d] = strings.TrimSpace(text)
		}
	}
	out.Deadlines = merged
	return nil
}
