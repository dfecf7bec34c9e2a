package leads

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ---------- intent ----------

var intentPatterns = []struct {
	pattern string
	intent  Intent
}{
	{"alquilar", IntentRental},
	{"alquiler", IntentRental},
	{"comprar", IntentSale},
	{"venta", IntentSale},
}

// ---------- neighborhood gazetteer ----------

// Checked in order; the first substring hit wins.
var neighborhoodGazetteer = []struct {
	pattern string
	name    string
}{
	{"nuñez", "Núñez"},
	{"palermo", "Palermo"},
	{"belgrano", "Belgrano"},
	{"recoleta", "Recoleta"},
	{"villa crespo", "Villa Crespo"},
	{"caballito", "Caballito"},
}

// ---------- rooms ----------

var roomsRE = regexp.MustCompile(`(\d+)\s*(ambientes?|dormitorios?|habitaciones?|cuartos?)`)

// ---------- budget ----------

type budgetRule struct {
	re    *regexp.Regexp
	parse func(match string) (int64, error)
}

var budgetRules = []budgetRule{
	{regexp.MustCompile(`(\d+)k`), parseThousands},
	{regexp.MustCompile(`(\d+\.?\d*)\s*m`), parseMillions},
	{regexp.MustCompile(`\$\s*(\d{1,3}(?:[.,]\d{3})*)`), parseGrouped},
	{regexp.MustCompile(`(\d{1,3}(?:[.,]\d{3})*)\s*pesos?`), parseGrouped},
	{regexp.MustCompile(`presupuesto.*?(\d{1,3}(?:[.,]\d{3})*)`), parseGrouped},
}

var groupingStripper = strings.NewReplacer(".", "", ",", "")

func parseThousands(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt64/1000 {
		return 0, strconv.ErrRange
	}
	return n * 1000, nil
}

func parseMillions(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	v := math.Floor(f * 1_000_000)
	if v >= math.MaxInt64 {
		return 0, strconv.ErrRange
	}
	return int64(v), nil
}

func parseGrouped(s string) (int64, error) {
	return strconv.ParseInt(groupingStripper.Replace(s), 10, 64)
}

// MatchIntent returns the intent signalled by text, if any.
func MatchIntent(text string) (Intent, bool) {
	lower := strings.ToLower(text)
	for _, p := range intentPatterns {
		if strings.Contains(lower, p.pattern) {
			return p.intent, true
		}
	}
	return "", false
}

// MatchNeighborhood returns the canonical gazetteer name mentioned in text, if any.
func MatchNeighborhood(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, n := range neighborhoodGazetteer {
		if strings.Contains(lower, n.pattern) {
			return n.name, true
		}
	}
	return "", false
}

// MatchRooms returns the room count mentioned in text, if any.
// A studio ("mono"/"monoambiente") counts as one room.
func MatchRooms(text string) (int, bool) {
	lower := strings.ToLower(text)
	if m := roomsRE.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n, true
		}
	}
	if strings.Contains(lower, "monoambiente") || strings.Contains(lower, "mono") {
		return 1, true
	}
	return 0, false
}

// MatchBudget returns the first budget amount that one of the rules can parse.
// Rules that match but fail to parse are skipped.
func MatchBudget(text string) (int64, bool) {
	lower := strings.ToLower(text)
	for _, rule := range budgetRules {
		m := rule.re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		v, err := rule.parse(m[1])
		if err != nil || v <= 0 {
			continue
		}
		return v, true
	}
	return 0, false
}

// Extract fills the unset tracked fields of current from text and reclassifies.
// Populated fields are never overwritten.
func Extract(text string, current Snapshot) Snapshot {
	out := current.Clone()
	if out.Intent == nil {
		if v, ok := MatchIntent(text); ok {
			out.Intent = &v
		}
	}
	if out.Neighborhood == nil {
		if v, ok := MatchNeighborhood(text); ok {
			out.Neighborhood = &v
		}
	}
	if out.Rooms == nil {
		if v, ok := MatchRooms(text); ok {
			out.Rooms = &v
		}
	}
	if out.Budget == nil {
		if v, ok := MatchBudget(text); ok {
			out.Budget = &v
		}
	}
	return Classify(out)
}
