package labs

// Normalize fixes up a parsed model response in place: context.report_ids is
// replaced by the uploaded PDF names, and labs with no flag or qualifier get
// L/H/N derived from their reference range. Non-object results pass through.
func Normalize(data any, pdfNames []string) any {
	obj, ok := data.(map[string]any)
	if !ok {
		return data
	}

	ctx, ok := obj["context"].(map[string]any)
	if !ok {
		ctx = map[string]any{}
		obj["context"] = ctx
	}
	ids := make([]any, 0, len(pdfNames))
	for _, n := range pdfNames {
		ids = append(ids, n)
	}
	ctx["report_ids"] = ids

	labs, ok := obj["labs"].([]any)
	if !ok {
		return obj
	}
	for _, entry := range labs {
		lab, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if !blank(lab["flag"]) || !blank(lab["qualifier"]) {
			continue
		}
		value, ok1 := number(lab["value"])
		low, ok2 := number(lab["ref_low"])
		high, ok3 := number(lab["ref_high"])
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		switch {
		case value < low:
			lab["flag"] = "L"
		case value > high:
			lab["flag"] = "H"
		default:
			lab["flag"] = "N"
		}
	}
	return obj
}

func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
