package conversation

import (
	"fmt"
	"strings"

	"github.com/wolfman30/realestate-lead-bot/internal/leads"
)

// FallbackRule names the branch of the local reply generator that produced a reply.
type FallbackRule string

const (
	RuleGreeting     FallbackRule = "greeting"
	RuleVisit        FallbackRule = "visit_request"
	RuleInvestment   FallbackRule = "investment"
	RulePersonalUse  FallbackRule = "personal_use"
	RuleNeighborhood FallbackRule = "neighborhood"
	RuleIntent       FallbackRule = "intent"
	RuleRooms        FallbackRule = "rooms"
	RuleBudget       FallbackRule = "budget"
	RuleGeneric      FallbackRule = "generic"
)

const (
	replyAskIntent     = "¡Hola! 👋 ¿Estás buscando alquilar o comprar una propiedad?"
	replyAskZone       = "¡Perfecto! ¿En qué zona o barrio estás buscando?"
	replyAskZoneRooms  = "Anotado. ¿En qué zona te gustaría que esté?"
	replyAskIntentAmt  = "Gracias por el dato del presupuesto. ¿Estás buscando alquilar o comprar?"
	replyAskReference  = "Para coordinar una visita necesito confirmar algunos datos primero. ¿Me pasás la referencia o la dirección de la propiedad?"
	replyAskTimeline   = "¡Genial! ¿Para cuándo necesitarías mudarte?"
	replyAskFinancing  = "¡Buenísimo! Si es para inversión, ¿buscás renta mensual o revalorización? ¿Tenés el financiamiento resuelto?"
	replyAskWhoFor     = "¡%s es una excelente zona! ¿La búsqueda es para vos o para otra persona?"
	replyClarification = "No estoy seguro de haber entendido. ¿Me contás qué tipo de propiedad buscás, si es para alquilar o comprar y en qué zona?"
)

// exactReplies matches whole messages after normalization.
var exactReplies = map[string]string{
	"hola":          replyAskIntent,
	"hola buenas":   replyAskIntent,
	"hola buen dia": replyAskIntent,
	"hola buen día": replyAskIntent,
	"buenas":        replyAskIntent,
	"buen dia":      replyAskIntent,
	"buen día":      replyAskIntent,
	"buenos dias":   replyAskIntent,
	"buenos días":   replyAskIntent,
	"buenas tardes": replyAskIntent,
	"buenas noches": replyAskIntent,
	"hi":            replyAskIntent,
	"hello":         replyAskIntent,
}

var (
	visitKeywords      = []string{"visita", "visitar", "ver la propiedad", "ver el depto", "ver el departamento", "conocer la propiedad"}
	investmentKeywords = []string{"invertir", "inversión", "inversion", "inversor"}
	personalKeywords   = []string{"para mí", "para mi ", "para vivir", "mudarme", "mudarnos", "para mudar"}
)

// keywordRules run in order after the exact table misses; the first hit wins.
var keywordRules = []struct {
	rule  FallbackRule
	reply func(lower string) (string, bool)
}{
	{RuleVisit, containsAny(visitKeywords, replyAskReference)},
	{RuleInvestment, containsAny(investmentKeywords, replyAskFinancing)},
	{RulePersonalUse, containsAny(personalKeywords, replyAskTimeline)},
	{RuleNeighborhood, func(lower string) (string, bool) {
		name, ok := leads.MatchNeighborhood(lower)
		if !ok {
			return "", false
		}
		return fmt.Sprintf(replyAskWhoFor, name), true
	}},
	{RuleIntent, func(lower string) (string, bool) {
		_, ok := leads.MatchIntent(lower)
		return replyAskZone, ok
	}},
	{RuleRooms, func(lower string) (string, bool) {
		_, ok := leads.MatchRooms(lower)
		return replyAskZoneRooms, ok
	}},
	{RuleBudget, func(lower string) (string, bool) {
		_, ok := leads.MatchBudget(lower)
		return replyAskIntentAmt, ok
	}},
}

func containsAny(keywords []string, reply string) func(string) (string, bool) {
	return func(lower string) (string, bool) {
		padded := lower + " "
		for _, kw := range keywords {
			if strings.Contains(padded, kw) {
				return reply, true
			}
		}
		return "", false
	}
}

// FallbackReply produces a deterministic reply when the external responder is not
// available. It has no side effects.
func FallbackReply(text string) (string, FallbackRule) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if reply, ok := exactReplies[exactKey(lower)]; ok {
		return reply, RuleGreeting
	}
	for _, r := range keywordRules {
		if reply, ok := r.reply(lower); ok {
			return reply, r.rule
		}
	}
	return replyClarification, RuleGeneric
}

var punctuationStripper = strings.NewReplacer(",", " ", ".", " ", "!", " ", "¡", " ", "?", " ", "¿", " ", ";", " ", ":", " ")

// exactKey folds punctuation and repeated spaces so "¡Hola, buenas!" hits "hola buenas".
func exactKey(lower string) string {
	return strings.Join(strings.Fields(punctuationStripper.Replace(lower)), " ")
}
